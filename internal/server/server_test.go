package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedocs/sitedocs/internal/config"
	"github.com/sitedocs/sitedocs/internal/drive"
	"github.com/sitedocs/sitedocs/internal/editor"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

const testToken = "test-token-123"

func newTestServer(t *testing.T) (*Server, *objstore.MemoryStore) {
	t.Helper()
	store := objstore.NewMemoryStore()

	gateway := editor.NewGateway(store, nil, editor.Config{
		PublicBaseURL: "http://localhost:8080",
		SigningSecret: "secret",
	})
	mgr := drive.NewManager(store, drive.ManagerConfig{Sessions: gateway})

	cfg := &config.Config{Listen: ":0", AuthToken: testToken}
	return NewServer(cfg, mgr, gateway, nil), store
}

func doJSON(t *testing.T, s *Server, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDriveRoutesRequireAuth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/drive/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/drive/list", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/drive/list", testToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateFolderAndList(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drive/folders", testToken,
		map[string]string{"parentPath": "", "name": "Projet Alpha"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Projet_Alpha/", created["path"])

	rec = doJSON(t, s, http.MethodGet, "/api/v1/drive/list?path=", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing drive.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Folders, 1)
	assert.Equal(t, "Projet Alpha", listing.Folders[0].Name)
}

func TestCreateFolderEmptyNameIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drive/folders", testToken,
		map[string]string{"parentPath": "", "name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteItemArchives(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "dir/f.txt", []byte("x"), ""))

	rec := doJSON(t, s, http.MethodDelete, "/api/v1/drive/items", testToken,
		map[string]interface{}{"path": "dir/f.txt", "isFolder": false})
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.Get(context.Background(), "dir/f.txt")
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestRenameConflictIsConflict(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "dir/a.txt", []byte("a"), ""))
	require.NoError(t, store.Put(ctx, "dir/b.txt", []byte("b"), ""))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drive/rename", testToken,
		map[string]string{"old": "dir/a.txt", "newName": "b.txt"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDownloadURLNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/drive/download-url?path=absent.txt", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadURL(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drive/upload-url", testToken,
		map[string]string{"path": "Projet_Alpha/", "name": "Plan général.pdf", "contentType": "application/pdf"})
	require.Equal(t, http.StatusOK, rec.Code)

	var target drive.UploadTarget
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &target))
	assert.Equal(t, "Projet_Alpha/Plan_général.pdf", target.Key)
	assert.NotEmpty(t, target.URL)
}

func TestSearch(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "dir/Plan_général.pdf", []byte("x"), ""))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/drive/search?term=plan", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			Name string `json:"name"`
			Path string `json:"path"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "dir/Plan_général.pdf", resp.Results[0].Path)
}

func TestBreadcrumb(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/drive/breadcrumb?path=Projet_Alpha%2FPlans%2F", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Breadcrumb []drive.Crumb `json:"breadcrumb"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Breadcrumb, 2)
	assert.Equal(t, "Plans", resp.Breadcrumb[1].Name)
}

func TestFolderZipStreamsArchive(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "dir/f.txt", []byte("x"), ""))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/drive/archive?path=dir%2F", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dir.zip")
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestMoveReportsResult(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "a/f.txt", []byte("x"), ""))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/drive/move", testToken,
		map[string]string{"source": "a/f.txt", "dest": "b/f.txt"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result  drive.BulkResult `json:"result"`
		Partial bool             `json:"partial"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Result.Copied)
	assert.False(t, resp.Partial)
}

func TestEditorConfigEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "dir/doc.docx", []byte("d"), ""))

	rec := doJSON(t, s, http.MethodPost, "/api/v1/editor/config", testToken,
		map[string]string{"path": "dir/doc.docx", "mode": "edit"})
	require.Equal(t, http.StatusOK, rec.Code)

	var session editor.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.NotEmpty(t, session.DocumentKey)
	assert.Contains(t, session.FileURL, "/api/v1/editor/proxy?")
}

func TestEditorProxyAcceptsBearerWithoutToken(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.Put(context.Background(), "dir/doc.docx", []byte("contenu"), ""))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/editor/proxy?path=dir%2Fdoc.docx", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "contenu", rec.Body.String())

	rec = doJSON(t, s, http.MethodGet, "/api/v1/editor/proxy?path=dir%2Fdoc.docx", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEditorCallbackIsPublic(t *testing.T) {
	s, _ := newTestServer(t)

	// Status 4 (closed without changes) needs no auth and is acknowledged.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/editor/callback", "",
		map[string]interface{}{"key": "k", "status": 4})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Error int `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Error)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/api/v1/drive/folders", testToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
