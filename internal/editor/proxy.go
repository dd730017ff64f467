package editor

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// ServeProxy streams document bytes to the external engine. The engine fetch
// carries a token minted by BuildSession; browser-originated fetches without
// a token must already be authenticated (authenticated flag from the outer
// middleware). The request is cross-origin from the engine runtime, hence
// the permissive CORS headers.
func (g *Gateway) ServeProxy(w http.ResponseWriter, r *http.Request, authenticated bool) {
	rawPath := r.URL.Query().Get("path")
	token := r.URL.Query().Get("token")

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if rawPath == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}

	switch {
	case token != "":
		boundPath, err := verifyAccessToken([]byte(g.cfg.SigningSecret), token)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrTokenExpired) {
				status = http.StatusForbidden
			}
			http.Error(w, "invalid token", status)
			return
		}
		// Tolerant match: the engine may re-normalize Unicode in the URL.
		if norm.NFC.String(boundPath) != norm.NFC.String(rawPath) {
			http.Error(w, "token not valid for this path", http.StatusForbidden)
			return
		}
	case authenticated:
		// Bearer-authenticated caller, no per-document token needed.
	default:
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	body, meta, resolved, err := g.openWithNormalization(r.Context(), rawPath)
	if errors.Is(err, objstore.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", rawPath).Msg("proxy read failed")
		http.Error(w, "store unavailable", http.StatusBadGateway)
		return
	}
	defer body.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(resolved))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := keycodec.Decode(keycodec.BaseName(resolved))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	if _, err := io.Copy(w, body); err != nil {
		log.Warn().Err(err).Str("path", resolved).Msg("proxy stream interrupted")
	}
}

// openWithNormalization tries the raw path, then its NFC form, then its NFD
// form. External clients disagree on Unicode normalization of filenames;
// the store key holds whatever form the uploader used.
func (g *Gateway) openWithNormalization(ctx context.Context, rawPath string) (io.ReadCloser, *objstore.Meta, string, error) {
	candidates := []string{rawPath}
	if nfc := norm.NFC.String(rawPath); nfc != rawPath {
		candidates = append(candidates, nfc)
	}
	if nfd := norm.NFD.String(rawPath); nfd != rawPath {
		candidates = append(candidates, nfd)
	}

	var lastErr error
	for _, candidate := range candidates {
		body, meta, err := g.store.GetStream(ctx, candidate)
		if err == nil {
			return body, meta, candidate, nil
		}
		lastErr = err
		if !errors.Is(err, objstore.ErrNotFound) {
			break
		}
	}
	return nil, nil, "", lastErr
}
