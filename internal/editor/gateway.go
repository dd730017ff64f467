// Package editor bridges the drive to an external collaborative editing
// engine that cannot reach the object store itself: it builds editing
// sessions, proxies document bytes behind short-lived tokens, and persists
// the engine's save callbacks.
package editor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// documentKeyLen is the hex length of a document key.
const documentKeyLen = 20

// docCacheSize bounds the documentKey<->path caches; entries also expire.
const docCacheSize = 4096

// ModificationRecorder updates the "last modified by" bookkeeping after a
// save. Implemented by the drive manager.
type ModificationRecorder interface {
	RecordModification(ctx context.Context, entryPath, actor string)
}

// Config tunes the gateway. Zero durations get defaults.
type Config struct {
	// EngineBaseURL is where browsers load the editing engine runtime from;
	// returned on every session so the frontend needs no separate config.
	EngineBaseURL string
	// PublicBaseURL is this service's externally reachable base URL, used to
	// build proxy and callback URLs the engine can fetch.
	PublicBaseURL string
	// SigningSecret signs access tokens and, when EnforceSignature is on,
	// session descriptors and callbacks.
	SigningSecret string
	// EnforceSignature requires signed descriptors and verified callbacks.
	EnforceSignature bool
	// TokenTTL is the proxy access-token lifetime.
	TokenTTL time.Duration
	// DocKeyTTL is how long a documentKey->path mapping is remembered.
	DocKeyTTL time.Duration
	// FetchTimeout bounds the download of saved content from the engine.
	FetchTimeout time.Duration
}

// Session is everything the frontend needs to boot the editing engine.
type Session struct {
	Config       map[string]interface{} `json:"config"`
	SignedConfig string                 `json:"signedConfig,omitempty"`
	EngineURL    string                 `json:"engineUrl,omitempty"`
	FileURL      string                 `json:"fileUrl"`
	CallbackURL  string                 `json:"callbackUrl"`
	DocumentKey  string                 `json:"documentKey"`
}

// Gateway implements the editing bridge. It also satisfies the drive's
// SessionInvalidator so deletes and moves drop stale document keys.
type Gateway struct {
	store    objstore.Store
	recorder ModificationRecorder
	cfg      Config

	// docKeys maps documentKey -> storage path; pathKeys is the reverse
	// index so a path event can evict its key.
	docKeys  *expirable.LRU[string, string]
	pathKeys *expirable.LRU[string, string]

	client *http.Client
}

// NewGateway wires the gateway. recorder may be nil in tests.
func NewGateway(store objstore.Store, recorder ModificationRecorder, cfg Config) *Gateway {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.DocKeyTTL <= 0 {
		cfg.DocKeyTTL = 7 * 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	return &Gateway{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		docKeys:  expirable.NewLRU[string, string](docCacheSize, nil, cfg.DocKeyTTL),
		pathKeys: expirable.NewLRU[string, string](docCacheSize, nil, cfg.DocKeyTTL),
		client:   &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// DocumentKey derives the engine's document identity from the path and the
// stored timestamp. Replacing the file content changes the key, so a session
// opened against the old content cannot silently save over the new one.
func DocumentKey(filePath string, lastModified time.Time) string {
	sum := sha256.Sum256([]byte(filePath + "|" + strconv.FormatInt(lastModified.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:documentKeyLen]
}

// InvalidatePath drops the cached document key for a storage path, after a
// delete, move or rename.
func (g *Gateway) InvalidatePath(filePath string) {
	if key, ok := g.pathKeys.Get(filePath); ok {
		g.docKeys.Remove(key)
		g.pathKeys.Remove(filePath)
	}
}

// InvalidatePrefix drops the cached document keys of every path under a
// folder prefix. Without this, a save callback arriving after a folder move
// would re-create its document at the old path.
func (g *Gateway) InvalidatePrefix(prefix string) {
	for _, filePath := range g.pathKeys.Keys() {
		if strings.HasPrefix(filePath, prefix) {
			g.InvalidatePath(filePath)
		}
	}
}

// BuildSession assembles the editing-session descriptor for filePath.
// mode is "edit" or "view"; anything else is treated as view.
func (g *Gateway) BuildSession(ctx context.Context, filePath, displayName, mode, actor string) (*Session, error) {
	meta, err := g.store.HeadMeta(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("build session %s: %w", filePath, err)
	}

	docKey := DocumentKey(filePath, meta.LastModified)
	g.docKeys.Add(docKey, filePath)
	g.pathKeys.Add(filePath, docKey)

	token, err := mintAccessToken([]byte(g.cfg.SigningSecret), filePath, actor, g.cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("build session %s: %w", filePath, err)
	}

	if displayName == "" {
		displayName = keycodec.Decode(keycodec.BaseName(filePath))
	}
	fileURL := g.cfg.PublicBaseURL + "/api/v1/editor/proxy?" + url.Values{
		"path":  {filePath},
		"token": {token},
	}.Encode()
	callbackURL := g.cfg.PublicBaseURL + "/api/v1/editor/callback?" + url.Values{
		"path": {filePath},
	}.Encode()

	edit := mode == "edit"
	modeLabel := "view"
	if edit {
		modeLabel = "edit"
	}
	config := map[string]interface{}{
		"documentType": documentTypeFor(filePath),
		"document": map[string]interface{}{
			"fileType": strings.TrimPrefix(path.Ext(filePath), "."),
			"key":      docKey,
			"title":    displayName,
			"url":      fileURL,
			"version":  versionFor(meta.LastModified),
		},
		"editorConfig": map[string]interface{}{
			"mode":        modeLabel,
			"callbackUrl": callbackURL,
			"user": map[string]interface{}{
				"id":   actor,
				"name": actor,
			},
		},
		"permissions": map[string]interface{}{
			"edit":     edit,
			"download": true,
			"print":    true,
			"review":   edit,
		},
	}

	session := &Session{
		Config:      config,
		EngineURL:   g.cfg.EngineBaseURL,
		FileURL:     fileURL,
		CallbackURL: callbackURL,
		DocumentKey: docKey,
	}
	if g.cfg.EnforceSignature {
		signed, err := signPayload([]byte(g.cfg.SigningSecret), config)
		if err != nil {
			// Some deployments run the engine without signature checks;
			// an unsigned session is still usable there.
			log.Warn().Err(err).Str("path", filePath).Msg("session signing failed, returning unsigned")
		} else {
			session.SignedConfig = signed
		}
	}
	return session, nil
}

// versionFor derives a short opaque version label from the timestamp.
func versionFor(lastModified time.Time) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(lastModified.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])[:8]
}

// documentTypeFor maps an extension onto the engine's three document kinds.
func documentTypeFor(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".xls", ".xlsx", ".ods", ".csv":
		return "cell"
	case ".ppt", ".pptx", ".odp":
		return "slide"
	default:
		return "word"
	}
}
