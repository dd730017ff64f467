package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Engine callback status codes that trigger persistence.
const (
	statusReadyToSave = 2
	statusForceSave   = 6
)

// callbackPayload is the engine's save webhook body.
type callbackPayload struct {
	Key    string `json:"key"`
	Status int    `json:"status"`
	URL    string `json:"url"`
	Token  string `json:"token,omitempty"`
	Users  []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"users,omitempty"`
}

// callbackResponse is the engine's expected acknowledgement: error 0 accepts,
// error 1 makes the engine retry.
type callbackResponse struct {
	Error int `json:"error"`
}

// HandleSaveCallback processes the engine's save webhook. It never returns a
// non-200 response; acceptance or rejection travels in the body so the
// engine's own retry logic can engage.
func (g *Gateway) HandleSaveCallback(w http.ResponseWriter, r *http.Request) {
	accept := func() {
		writeCallbackResponse(w, callbackResponse{Error: 0})
	}
	reject := func(reason string, err error) {
		log.Warn().Err(err).Str("reason", reason).Msg("save callback rejected")
		writeCallbackResponse(w, callbackResponse{Error: 1})
	}

	var payload callbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		reject("malformed payload", err)
		return
	}

	if g.cfg.EnforceSignature {
		token := payload.Token
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			reject("missing signature", nil)
			return
		}
		if err := verifyPayloadToken([]byte(g.cfg.SigningSecret), token); err != nil {
			reject("bad signature", err)
			return
		}
	}

	if payload.Status != statusReadyToSave && payload.Status != statusForceSave {
		// Open, closed-without-change, error states: acknowledge and move on.
		accept()
		return
	}

	filePath, ok := g.resolveDocumentPath(payload.Key, r)
	if !ok {
		reject("unknown document key", fmt.Errorf("key %q", payload.Key))
		return
	}

	if err := g.persistSavedContent(r.Context(), filePath, payload); err != nil {
		reject("persist failed", err)
		return
	}
	log.Info().Str("path", filePath).Str("key", payload.Key).Msg("document saved from editor")
	accept()
}

// resolveDocumentPath maps the engine's document key back to a storage path.
// The cache holds the mapping for the document-key TTL; past that, the path
// hint that BuildSession placed on the callback URL is the best effort left.
func (g *Gateway) resolveDocumentPath(docKey string, r *http.Request) (string, bool) {
	if filePath, ok := g.docKeys.Get(docKey); ok {
		return filePath, true
	}
	if hint := r.URL.Query().Get("path"); hint != "" {
		log.Warn().Str("key", docKey).Str("path", hint).Msg("document key expired from cache, trusting path hint")
		return hint, true
	}
	return "", false
}

// persistSavedContent downloads the engine's saved document and writes it
// back to the store, then updates the folder bookkeeping.
func (g *Gateway) persistSavedContent(ctx context.Context, filePath string, payload callbackPayload) error {
	if payload.URL == "" {
		return fmt.Errorf("no content url in payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch saved content: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch saved content: status %d", resp.StatusCode)
	}

	if err := g.store.Upload(ctx, filePath, resp.Body, resp.Header.Get("Content-Type")); err != nil {
		return fmt.Errorf("upload saved content: %w", err)
	}

	// Content changed, so the old document key no longer describes it.
	g.InvalidatePath(filePath)

	if g.recorder != nil {
		actor := "éditeur"
		if len(payload.Users) > 0 && payload.Users[0].Name != "" {
			actor = payload.Users[0].Name
		}
		g.recorder.RecordModification(ctx, filePath, actor)
	}
	return nil
}

func writeCallbackResponse(w http.ResponseWriter, resp callbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Msg("write callback response failed")
	}
}
