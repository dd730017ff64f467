package drive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedocs/sitedocs/internal/objstore"
)

func newTestManager(t *testing.T) (*Manager, *objstore.MemoryStore) {
	t.Helper()
	store := objstore.NewMemoryStore()
	mgr := NewManager(store, ManagerConfig{ListingTTL: time.Minute})
	return mgr, store
}

func TestNormalizeFolderPath(t *testing.T) {
	assert.Equal(t, "", NormalizeFolderPath(""))
	assert.Equal(t, "", NormalizeFolderPath("/"))
	assert.Equal(t, "a/", NormalizeFolderPath("a"))
	assert.Equal(t, "a/b/", NormalizeFolderPath("/a/b/"))
}

func TestCreateFolderAndList(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	folderPath, err := mgr.CreateFolder(ctx, "", "Projet Alpha", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Projet_Alpha/", folderPath)

	// Marker makes the empty folder visible.
	_, err = store.HeadMeta(ctx, "Projet_Alpha/.keep")
	require.NoError(t, err)

	listing, err := mgr.ListFolder(ctx, "")
	require.NoError(t, err)
	require.Len(t, listing.Folders, 1)
	assert.Equal(t, "Projet Alpha", listing.Folders[0].Name)
	assert.Equal(t, "Projet_Alpha/", listing.Folders[0].Path)
	assert.Equal(t, "alice", listing.Folders[0].ModifiedBy)
	assert.Empty(t, listing.Files)
}

func TestCreateFolderEmptyName(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.CreateFolder(context.Background(), "", "   ", "alice")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestListFolderSortsCaseInsensitively(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	for _, key := range []string{"dir/beta.txt", "dir/Alpha.txt", "dir/charlie.txt"} {
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}

	listing, err := mgr.ListFolder(ctx, "dir/")
	require.NoError(t, err)
	var names []string
	for _, f := range listing.Files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Alpha.txt", "beta.txt", "charlie.txt"}, names)
}

func TestListFolderCacheInvalidatedByCreate(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.ListFolder(ctx, "")
	require.NoError(t, err)

	_, err = mgr.CreateFolder(ctx, "", "Nouveau", "alice")
	require.NoError(t, err)

	listing, err := mgr.ListFolder(ctx, "")
	require.NoError(t, err)
	require.Len(t, listing.Folders, 1)
	assert.Equal(t, "Nouveau", listing.Folders[0].Name)
}

func TestDeleteFileArchivesIt(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "Projet_Alpha/Plan_général.pdf", []byte("pdf"), ""))

	err := mgr.DeleteItem(ctx, "Projet_Alpha/Plan_général.pdf", false, "alice")
	require.NoError(t, err)

	// Gone from the original path.
	_, err = store.Get(ctx, "Projet_Alpha/Plan_général.pdf")
	assert.ErrorIs(t, err, objstore.ErrNotFound)

	// Present under the archive with the origin flattened into the name.
	keys := store.Keys()
	var archived string
	for _, key := range keys {
		if strings.HasPrefix(key, ArchivePrefix) {
			archived = key
		}
	}
	require.NotEmpty(t, archived)
	assert.Contains(t, archived, "Plan_général__Projet_Alpha__")
	assert.True(t, strings.HasSuffix(archived, ".pdf"))
}

func TestDeleteArchivedItemIsTerminal(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "dossier/fichier.txt", []byte("x"), ""))
	require.NoError(t, mgr.DeleteItem(ctx, "dossier/fichier.txt", false, "alice"))

	var archived string
	for _, key := range store.Keys() {
		if strings.HasPrefix(key, ArchivePrefix) {
			archived = key
		}
	}
	require.NotEmpty(t, archived)

	// Second delete purges physically.
	require.NoError(t, mgr.DeleteItem(ctx, archived, false, "alice"))
	for _, key := range store.Keys() {
		assert.False(t, strings.HasPrefix(key, ArchivePrefix), "archive should be empty, found %s", key)
	}
}

func TestDeleteFolderArchivesRecursively(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	for _, key := range []string{"Projet/.keep", "Projet/a.txt", "Projet/Sous/.keep", "Projet/Sous/b.txt"} {
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}

	require.NoError(t, mgr.DeleteItem(ctx, "Projet/", true, "alice"))

	for _, key := range store.Keys() {
		if strings.HasSuffix(key, objstore.MetadataName) {
			continue
		}
		assert.True(t, strings.HasPrefix(key, ArchivePrefix), "unexpected live key %s", key)
	}
	// Nested structure preserved under the archive destination.
	found := false
	for _, key := range store.Keys() {
		if strings.HasPrefix(key, ArchivePrefix) && strings.HasSuffix(key, "/Sous/b.txt") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMoveFolder(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	keys := []string{"Src/.keep", "Src/a.txt", "Src/Sub/.keep", "Src/Sub/b.txt", "Src/Sub/c.txt"}
	for _, key := range keys {
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}

	result, err := mgr.MoveItem(ctx, "Src/", "Dest/Src/", "alice")
	require.NoError(t, err)
	assert.Equal(t, len(keys), result.Copied)
	assert.Empty(t, result.Failed)

	for _, key := range store.Keys() {
		assert.False(t, strings.HasPrefix(key, "Src/"), "source key left behind: %s", key)
	}
	_, err = store.Get(ctx, "Dest/Src/Sub/b.txt")
	require.NoError(t, err)
}

func TestMoveEmptyFolderRelocatesMarker(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "Vide/.keep", nil, ""))

	result, err := mgr.MoveItem(ctx, "Vide/", "Ailleurs/", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Copied)

	_, err = store.HeadMeta(ctx, "Ailleurs/.keep")
	require.NoError(t, err)
}

func TestMoveIntoItselfRejected(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, store.Put(context.Background(), "A/.keep", nil, ""))

	_, err := mgr.MoveItem(context.Background(), "A/", "A/B/", "alice")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRenameConflictLeavesStoreUnchanged(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "dir/ancien.txt", []byte("a"), ""))
	require.NoError(t, store.Put(ctx, "dir/occupé.txt", []byte("b"), ""))
	before := store.Keys()

	_, err := mgr.RenameItem(ctx, "dir/ancien.txt", "occupé.txt", "alice")
	assert.ErrorIs(t, err, ErrNameConflict)
	assert.Equal(t, before, store.Keys())
}

func TestRenameFile(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "dir/ancien_nom.txt", []byte("a"), ""))

	newPath, err := mgr.RenameItem(ctx, "dir/ancien_nom.txt", "nouveau nom.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "dir/nouveau_nom.txt", newPath)

	_, err = store.Get(ctx, "dir/nouveau_nom.txt")
	require.NoError(t, err)
	_, err = store.Get(ctx, "dir/ancien_nom.txt")
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestRenameToSameNameIsNoop(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "dir/même.txt", []byte("a"), ""))

	newPath, err := mgr.RenameItem(ctx, "dir/même.txt", "même.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "dir/même.txt", newPath)
}

func TestDownloadAndDisplayURLs(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "dir/Plan_général.pdf", []byte("pdf"), ""))

	u, err := mgr.GetDownloadURL(ctx, "dir/Plan_général.pdf")
	require.NoError(t, err)
	assert.Contains(t, u, "attachment")

	u, err = mgr.GetDisplayURL(ctx, "dir/Plan_général.pdf")
	require.NoError(t, err)
	assert.Contains(t, u, "inline")

	_, err = mgr.GetDownloadURL(ctx, "dir/")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestGetUploadURL(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	target, err := mgr.GetUploadURL(ctx, "Projet_Alpha/", "Plan général.pdf", "application/pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Projet_Alpha/Plan_général.pdf", target.Key)
	assert.NotEmpty(t, target.URL)
	assert.NotEmpty(t, target.Fields)

	// Optimistic metadata: recorded before the object exists.
	rec := mgr.loadRecord(ctx, "Projet_Alpha/")
	assert.Equal(t, "alice", rec["Plan général.pdf"])
}

func TestGetUploadURLAcceptsDisplayFolderPath(t *testing.T) {
	mgr, _ := newTestManager(t)

	target, err := mgr.GetUploadURL(context.Background(), "Projet Alpha/Sous dossier/", "Plan général.pdf", "application/pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Projet_Alpha/Sous_dossier/Plan_général.pdf", target.Key)
}

func TestBreadcrumb(t *testing.T) {
	assert.Nil(t, Breadcrumb(""))

	crumbs := Breadcrumb("Projet_Alpha/Plans/Détails/")
	require.Len(t, crumbs, 3)
	assert.Equal(t, Crumb{Name: "Projet Alpha", Path: "Projet_Alpha/"}, crumbs[0])
	assert.Equal(t, Crumb{Name: "Plans", Path: "Projet_Alpha/Plans/"}, crumbs[1])
	assert.Equal(t, Crumb{Name: "Détails", Path: "Projet_Alpha/Plans/Détails/"}, crumbs[2])
}

// Mirrors the drive's primary workflow from folder creation to archival.
func TestEndToEndScenario(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	folderPath, err := mgr.CreateFolder(ctx, "", "Projet Alpha", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Projet_Alpha/", folderPath)

	// Upload lands directly in the store, as the presigned POST would.
	target, err := mgr.GetUploadURL(ctx, folderPath, "Plan général.pdf", "application/pdf", "alice")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, target.Key, []byte("pdf-bytes"), "application/pdf"))

	root, err := mgr.ListFolder(ctx, "")
	require.NoError(t, err)
	require.Len(t, root.Folders, 1)
	assert.Equal(t, "Projet Alpha", root.Folders[0].Name)
	assert.Equal(t, "Projet_Alpha/", root.Folders[0].Path)

	inside, err := mgr.ListFolder(ctx, "Projet_Alpha/")
	require.NoError(t, err)
	require.Len(t, inside.Files, 1)
	assert.Equal(t, "Plan général.pdf", inside.Files[0].Name)
	assert.Equal(t, "alice", inside.Files[0].ModifiedBy)

	require.NoError(t, mgr.DeleteItem(ctx, "Projet_Alpha/Plan_général.pdf", false, "alice"))

	inside, err = mgr.ListFolder(ctx, "Projet_Alpha/")
	require.NoError(t, err)
	assert.Empty(t, inside.Files)

	archive, err := mgr.ListFolder(ctx, ArchivePrefix)
	require.NoError(t, err)
	require.Len(t, archive.Files, 1)
	assert.True(t, strings.HasPrefix(archive.Files[0].Name, "Plan général"),
		"archived name %q should keep the display base name", archive.Files[0].Name)
}

type recordingInvalidator struct {
	paths    []string
	prefixes []string
}

func (r *recordingInvalidator) InvalidatePath(path string) {
	r.paths = append(r.paths, path)
}

func (r *recordingInvalidator) InvalidatePrefix(prefix string) {
	r.prefixes = append(r.prefixes, prefix)
}

func TestDeleteFileInvalidatesEditorSession(t *testing.T) {
	store := objstore.NewMemoryStore()
	inv := &recordingInvalidator{}
	mgr := NewManager(store, ManagerConfig{Sessions: inv})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "dir/doc.docx", []byte("x"), ""))
	require.NoError(t, mgr.DeleteItem(ctx, "dir/doc.docx", false, "alice"))

	assert.Equal(t, []string{"dir/doc.docx"}, inv.paths)
	assert.Empty(t, inv.prefixes)
}

func TestMoveFolderInvalidatesContainedSessions(t *testing.T) {
	store := objstore.NewMemoryStore()
	inv := &recordingInvalidator{}
	mgr := NewManager(store, ManagerConfig{Sessions: inv})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "A/doc.docx", []byte("x"), ""))

	_, err := mgr.MoveItem(ctx, "A/", "B/", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"A/"}, inv.prefixes)
	assert.Empty(t, inv.paths)
}

func TestDeleteFolderInvalidatesContainedSessions(t *testing.T) {
	store := objstore.NewMemoryStore()
	inv := &recordingInvalidator{}
	mgr := NewManager(store, ManagerConfig{Sessions: inv})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "A/doc.docx", []byte("x"), ""))
	require.NoError(t, mgr.DeleteItem(ctx, "A/", true, "alice"))

	assert.Equal(t, []string{"A/"}, inv.prefixes)
}

func TestDeleteFolderIgnoresSiblingPrefix(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "Projet/a.txt", []byte("x"), ""))
	require.NoError(t, store.Put(ctx, "Projet2/b.txt", []byte("y"), ""))

	// Missing trailing separator must not widen the prefix scan.
	require.NoError(t, mgr.DeleteItem(ctx, "Projet", true, "alice"))

	_, err := store.Get(ctx, "Projet2/b.txt")
	require.NoError(t, err)
	_, err = store.Get(ctx, "Projet/a.txt")
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}
