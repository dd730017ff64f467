// Package search finds files and folders by display name across the whole
// key space in a single delimiterless scan.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// DefaultMaxResults caps a search when the caller does not.
const DefaultMaxResults = 100

// Result is one search hit.
type Result struct {
	// Name is the display name of the matched entry.
	Name string `json:"name"`
	// Path is the storage key (file) or prefix (folder).
	Path string `json:"path"`
	// IsFolder distinguishes folder hits from file hits.
	IsFolder bool `json:"isFolder"`
	// Depth is the number of path segments above the entry.
	Depth int `json:"depth"`
	// Size is only set for files.
	Size int64 `json:"size,omitempty"`
}

// Indexer scans the store on demand; nothing is persisted between searches.
type Indexer struct {
	store objstore.Store
}

// NewIndexer returns a search indexer over store.
func NewIndexer(store objstore.Store) *Indexer {
	return &Indexer{store: store}
}

// Search walks every key under basePath once, without a delimiter, and
// returns entries whose display name contains term (case-insensitive).
// Matched files also surface their matching ancestor folders. Folders sort
// before files, shallow before deep; the scan stops paging once maxResults
// distinct hits are collected.
func (ix *Indexer) Search(ctx context.Context, term, basePath string, maxResults int) ([]Result, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var (
		folders     []Result
		files       []Result
		seenFolders = make(map[string]bool)
	)
	total := func() int { return len(folders) + len(files) }

	addFolder := func(prefix string) {
		if seenFolders[prefix] {
			return
		}
		seenFolders[prefix] = true
		folders = append(folders, Result{
			Name:     keycodec.Decode(keycodec.BaseName(prefix)),
			Path:     prefix,
			IsFolder: true,
			Depth:    segmentDepth(prefix),
		})
	}

	err := ix.store.ScanPrefix(ctx, basePath, func(obj objstore.Object) error {
		if total() >= maxResults {
			return objstore.ErrStopScan
		}
		base := keycodec.BaseName(obj.Key)

		if strings.HasSuffix(obj.Key, "/"+objstore.MarkerName) || obj.Key == objstore.MarkerName {
			// Folder marker: the folder's own segment is the leaf above it.
			prefix := keycodec.ParentPath(obj.Key)
			if prefix != "" && displayMatches(keycodec.BaseName(prefix), term) {
				addFolder(prefix)
			}
			return nil
		}
		if objstore.IsInternalKey(obj.Key) {
			return nil
		}

		// Fast short-circuit on the full key before walking segments.
		if !displayMatches(obj.Key, term) {
			return nil
		}
		if displayMatches(base, term) {
			files = append(files, Result{
				Name:  keycodec.Decode(base),
				Path:  obj.Key,
				Depth: segmentDepth(obj.Key),
				Size:  obj.Size,
			})
		}
		// Surface matching ancestor folders of the matched key.
		for parent := keycodec.ParentPath(obj.Key); parent != ""; parent = keycodec.ParentPath(parent) {
			if displayMatches(keycodec.BaseName(parent), term) {
				addFolder(parent)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", term, err)
	}

	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Depth != folders[j].Depth {
			return folders[i].Depth < folders[j].Depth
		}
		return folders[i].Name < folders[j].Name
	})
	sort.Slice(files, func(i, j int) bool {
		if files[i].Depth != files[j].Depth {
			return files[i].Depth < files[j].Depth
		}
		return files[i].Name < files[j].Name
	})

	results := append(folders, files...)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// displayMatches tests the decoded form of a key fragment against the
// lowercased term.
func displayMatches(fragment, term string) bool {
	return strings.Contains(strings.ToLower(keycodec.Decode(fragment)), term)
}

// segmentDepth counts path segments above the entry: root entries are 0.
func segmentDepth(key string) int {
	trimmed := strings.TrimSuffix(key, "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/")
}
