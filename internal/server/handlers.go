package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/drive"
	"github.com/sitedocs/sitedocs/internal/keycodec"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	listing, err := s.drive.ListFolder(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ParentPath string `json:"parentPath"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	folderPath, err := s.drive.CreateFolder(r.Context(), req.ParentPath, req.Name, actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"path": folderPath})
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path     string `json:"path"`
		IsFolder bool   `json:"isFolder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.drive.DeleteItem(r.Context(), req.Path, req.IsFolder, actor(r)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": req.Path})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	s.handlePresignedURL(w, r, s.drive.GetDownloadURL)
}

func (s *Server) handleDisplayURL(w http.ResponseWriter, r *http.Request) {
	s.handlePresignedURL(w, r, s.drive.GetDisplayURL)
}

func (s *Server) handlePresignedURL(w http.ResponseWriter, r *http.Request, presign func(context.Context, string) (string, error)) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	u, err := presign(r.Context(), path)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path        string `json:"path"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	target, err := s.drive.GetUploadURL(r.Context(), req.Path, req.Name, req.ContentType, actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, target)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	maxResults := 0
	if raw := q.Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.jsonError(w, "invalid max parameter", http.StatusBadRequest)
			return
		}
		maxResults = n
	}
	results, err := s.drive.SearchFiles(r.Context(), q.Get("term"), q.Get("path"), maxResults)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Source string `json:"source"`
		Dest   string `json:"dest"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.drive.MoveItem(r.Context(), req.Source, req.Dest, actor(r))
	if errors.Is(err, drive.ErrPartialFailure) {
		// Partial completion travels in the body rather than aborting the
		// response; the caller re-runs the move for the failed keys.
		log.Warn().Str("source", req.Source).Int("failed", len(result.Failed)).Msg("partial move")
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"result": result, "partial": true})
		return
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"result": result, "partial": false})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Old     string `json:"old"`
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	newPath, err := s.drive.RenameItem(r.Context(), req.Old, req.NewName, actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"path": newPath})
}

func (s *Server) handleBreadcrumb(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	crumbs := drive.Breadcrumb(r.URL.Query().Get("path"))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"breadcrumb": crumbs})
}

func (s *Server) handleFolderZip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	folderPath := r.URL.Query().Get("path")
	if folderPath == "" {
		s.jsonError(w, "path is required", http.StatusBadRequest)
		return
	}

	name := keycodec.Decode(keycodec.BaseName(folderPath)) + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	// Streaming: once bytes are out, errors can only be logged.
	skipped, err := s.drive.DownloadFolderAsZip(r.Context(), folderPath, w)
	if err != nil {
		log.Error().Err(err).Str("folder", folderPath).Msg("zip export failed mid-stream")
		return
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Str("folder", folderPath).Msg("zip export skipped unreadable files")
	}
}

func (s *Server) handleEditorProxy(w http.ResponseWriter, r *http.Request) {
	s.gateway.ServeProxy(w, r, s.bearerAuthenticated(r))
}

func (s *Server) handleEditorConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Path string `json:"path"`
		Name string `json:"name"`
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Path == "" || strings.HasSuffix(req.Path, "/") {
		s.jsonError(w, "path must point to a file", http.StatusBadRequest)
		return
	}
	session, err := s.gateway.BuildSession(r.Context(), req.Path, req.Name, req.Mode, actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}
