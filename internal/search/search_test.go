package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedocs/sitedocs/internal/objstore"
)

func seedStore(t *testing.T) *objstore.MemoryStore {
	t.Helper()
	store := objstore.NewMemoryStore()
	ctx := context.Background()
	keys := []string{
		"Projet_Alpha/.keep",
		"Projet_Alpha/Plan_général.pdf",
		"Projet_Alpha/Plans/.keep",
		"Projet_Alpha/Plans/Détails/.keep",
		"Projet_Alpha/Plans/Détails/coupe_plan_nord.dwg",
		"Projet_Beta/.keep",
		"Projet_Beta/budget.xlsx",
		"Chantier_Sud/rapport_final.pdf",
	}
	for _, key := range keys {
		require.NoError(t, store.Put(ctx, key, []byte("x"), ""))
	}
	return store
}

func TestSearchFindsFilesByDisplayName(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	results, err := ix.Search(context.Background(), "plan général", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Plan général.pdf", results[0].Name)
	assert.Equal(t, "Projet_Alpha/Plan_général.pdf", results[0].Path)
	assert.False(t, results[0].IsFolder)
}

func TestSearchFoldersBeforeFilesShallowFirst(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	// "plan" matches the Plans folder (via marker and via file ancestry) and
	// two files at different depths.
	results, err := ix.Search(context.Background(), "plan", "", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.True(t, results[0].IsFolder)
	assert.Equal(t, "Plans", results[0].Name)
	assert.Equal(t, "Projet_Alpha/Plans/", results[0].Path)
	assert.Equal(t, 1, results[0].Depth)

	// Files follow, shallow before deep.
	var fileNames []string
	for _, r := range results[1:] {
		require.False(t, r.IsFolder)
		fileNames = append(fileNames, r.Name)
	}
	assert.Equal(t, []string{"Plan général.pdf", "coupe plan nord.dwg"}, fileNames)
}

func TestSearchNestedFolderDepth(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	results, err := ix.Search(context.Background(), "détails", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].IsFolder)
	assert.Equal(t, "Projet_Alpha/Plans/Détails/", results[0].Path)
	assert.Equal(t, 2, results[0].Depth)
}

func TestSearchDeduplicatesFolders(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	// "projet" matches two folder markers plus every file underneath them;
	// each folder must appear exactly once.
	results, err := ix.Search(context.Background(), "projet", "", 0)
	require.NoError(t, err)

	var folderPaths []string
	for _, r := range results {
		if r.IsFolder {
			folderPaths = append(folderPaths, r.Path)
		}
	}
	assert.Equal(t, []string{"Projet_Alpha/", "Projet_Beta/"}, folderPaths)
}

func TestSearchScopedToBasePath(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	results, err := ix.Search(context.Background(), "pdf", "Projet_Alpha/", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Projet_Alpha/Plan_général.pdf", results[0].Path)
}

func TestSearchMaxResults(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	results, err := ix.Search(context.Background(), "p", "", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchEmptyTerm(t *testing.T) {
	ix := NewIndexer(seedStore(t))

	results, err := ix.Search(context.Background(), "   ", "", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
