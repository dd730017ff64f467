// Package server exposes the drive and editor gateway over HTTP.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/config"
	"github.com/sitedocs/sitedocs/internal/drive"
	"github.com/sitedocs/sitedocs/internal/editor"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server routes HTTP requests onto the drive manager and editor gateway.
type Server struct {
	cfg     *config.Config
	drive   *drive.Manager
	gateway *editor.Gateway
	metrics *APIMetrics
	mux     *http.ServeMux
}

// NewServer creates the HTTP surface. metrics may be nil in tests.
func NewServer(cfg *config.Config, mgr *drive.Manager, gateway *editor.Gateway, metrics *APIMetrics) *Server {
	s := &Server{
		cfg:     cfg,
		drive:   mgr,
		gateway: gateway,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/api/v1/drive/list", s.route("list", s.withAuth(s.handleList)))
	s.mux.HandleFunc("/api/v1/drive/folders", s.route("folders", s.withAuth(s.handleCreateFolder)))
	s.mux.HandleFunc("/api/v1/drive/items", s.route("items", s.withAuth(s.handleDeleteItem)))
	s.mux.HandleFunc("/api/v1/drive/download-url", s.route("download_url", s.withAuth(s.handleDownloadURL)))
	s.mux.HandleFunc("/api/v1/drive/display-url", s.route("display_url", s.withAuth(s.handleDisplayURL)))
	s.mux.HandleFunc("/api/v1/drive/upload-url", s.route("upload_url", s.withAuth(s.handleUploadURL)))
	s.mux.HandleFunc("/api/v1/drive/search", s.route("search", s.withAuth(s.handleSearch)))
	s.mux.HandleFunc("/api/v1/drive/move", s.route("move", s.withAuth(s.handleMove)))
	s.mux.HandleFunc("/api/v1/drive/rename", s.route("rename", s.withAuth(s.handleRename)))
	s.mux.HandleFunc("/api/v1/drive/breadcrumb", s.route("breadcrumb", s.withAuth(s.handleBreadcrumb)))
	s.mux.HandleFunc("/api/v1/drive/archive", s.route("archive", s.withAuth(s.handleFolderZip)))

	// Proxy accepts either a session token or a bearer-authenticated caller;
	// the callback is unauthenticated by design and secured by its own
	// signature scheme.
	s.mux.HandleFunc("/api/v1/editor/proxy", s.route("editor_proxy", s.handleEditorProxy))
	s.mux.HandleFunc("/api/v1/editor/config", s.route("editor_config", s.withAuth(s.handleEditorConfig)))
	s.mux.HandleFunc("/api/v1/editor/callback", s.route("editor_callback", s.gateway.HandleSaveCallback))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Info().Str("listen", s.cfg.Listen).Msg("starting drive server")
	return http.ListenAndServe(s.cfg.Listen, s)
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route wraps a handler with request logging and per-route metrics.
func (s *Server) route(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		elapsed := time.Since(start)
		log.Debug().
			Str("route", name).
			Str("method", r.Method).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(rec.status)).Inc()
			s.metrics.RequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		}
	}
}

// withAuth requires the configured bearer token.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.bearerAuthenticated(r) {
			s.jsonError(w, "invalid or missing bearer token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) bearerAuthenticated(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.cfg.AuthToken)) == 1
}

// actor extracts the caller label for "last modified by" bookkeeping.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. NotFound is a
// normal outcome and is not logged as an error.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, objstore.ErrNotFound):
		s.jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, drive.ErrNameConflict):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, drive.ErrInvalidName):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, objstore.ErrStoreUnavailable):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("store unavailable")
		s.jsonError(w, "object store unavailable", http.StatusBadGateway)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
