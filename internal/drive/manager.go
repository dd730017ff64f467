// Package drive implements the folder/file abstraction over the flat object
// key space: listings, folder creation, archive-instead-of-delete, moves and
// renames, presigned transfer URLs and zip export.
package drive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
	"github.com/sitedocs/sitedocs/internal/search"
)

// Drive error taxonomy, on top of the store's.
var (
	ErrInvalidName    = errors.New("invalid name")
	ErrNameConflict   = errors.New("name already exists")
	ErrPartialFailure = errors.New("operation partially failed")
)

// listingCacheSize bounds the folder-listing cache; entries also expire by TTL.
const listingCacheSize = 512

// FolderEntry is a folder as shown in a listing.
type FolderEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	ModifiedBy string `json:"modifiedBy,omitempty"`
}

// FileEntry is a file as shown in a listing.
type FileEntry struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ModifiedBy   string    `json:"modifiedBy,omitempty"`
}

// Listing is one folder's contents, sorted case-insensitively by name.
type Listing struct {
	Folders []FolderEntry `json:"folders"`
	Files   []FileEntry   `json:"files"`
}

// Crumb is one segment of a breadcrumb trail.
type Crumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// UploadTarget is a presigned browser-upload form plus the key it writes.
type UploadTarget struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
	Key    string            `json:"key"`
}

// BulkResult reports a multi-key operation: how many keys landed and which
// source keys failed to copy.
type BulkResult struct {
	Copied int      `json:"copied"`
	Failed []string `json:"failed,omitempty"`
}

// ManagerConfig tunes the drive manager. Zero values get defaults.
type ManagerConfig struct {
	// ListingTTL bounds staleness of cached folder listings.
	ListingTTL time.Duration
	// DownloadTTL is the expiry of presigned GET URLs.
	DownloadTTL time.Duration
	// UploadTTL is the expiry of presigned POST forms.
	UploadTTL time.Duration
	// Sessions, when set, is told about deleted/moved files so stale editor
	// sessions cannot save over them.
	Sessions SessionInvalidator
}

// Manager is the drive facade. It holds no persistent state; the bucket is
// the source of truth and the listing cache is advisory.
type Manager struct {
	store    objstore.Store
	archiver *Archiver
	indexer  *search.Indexer
	listings *expirable.LRU[string, *Listing]
	sessions SessionInvalidator

	downloadTTL time.Duration
	uploadTTL   time.Duration
}

// NewManager wires a drive manager over store.
func NewManager(store objstore.Store, cfg ManagerConfig) *Manager {
	if cfg.ListingTTL <= 0 {
		cfg.ListingTTL = 15 * time.Minute
	}
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = time.Hour
	}
	if cfg.UploadTTL <= 0 {
		cfg.UploadTTL = time.Hour
	}
	return &Manager{
		store:       store,
		archiver:    NewArchiver(store),
		indexer:     search.NewIndexer(store),
		listings:    expirable.NewLRU[string, *Listing](listingCacheSize, nil, cfg.ListingTTL),
		sessions:    cfg.Sessions,
		downloadTTL: cfg.DownloadTTL,
		uploadTTL:   cfg.UploadTTL,
	}
}

// Archiver exposes the archive component, for the purge job and CLI.
func (m *Manager) Archiver() *Archiver {
	return m.archiver
}

// SetSessionInvalidator attaches the editor-session invalidator after
// construction; the manager and the gateway reference each other, so one side
// has to be wired late.
func (m *Manager) SetSessionInvalidator(inv SessionInvalidator) {
	m.sessions = inv
}

// NormalizeFolderPath strips a leading separator and guarantees a trailing
// one; the root folder is the empty string.
func NormalizeFolderPath(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// ListFolder returns the folder's contents, read through a TTL cache.
func (m *Manager) ListFolder(ctx context.Context, folderPath string) (*Listing, error) {
	folderPath = NormalizeFolderPath(folderPath)
	if cached, ok := m.listings.Get(folderPath); ok {
		return cached, nil
	}

	raw, err := m.store.List(ctx, folderPath)
	if err != nil {
		return nil, fmt.Errorf("list folder %q: %w", folderPath, err)
	}
	rec := m.loadRecord(ctx, folderPath)

	listing := &Listing{}
	for _, prefix := range raw.Folders {
		name := keycodec.Decode(keycodec.BaseName(prefix))
		listing.Folders = append(listing.Folders, FolderEntry{
			Name:       name,
			Path:       prefix,
			ModifiedBy: rec[name],
		})
	}
	for _, obj := range raw.Files {
		name := keycodec.Decode(keycodec.BaseName(obj.Key))
		listing.Files = append(listing.Files, FileEntry{
			Name:         name,
			Path:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ModifiedBy:   rec[name],
		})
	}
	sort.Slice(listing.Folders, func(i, j int) bool {
		return strings.ToLower(listing.Folders[i].Name) < strings.ToLower(listing.Folders[j].Name)
	})
	sort.Slice(listing.Files, func(i, j int) bool {
		return strings.ToLower(listing.Files[i].Name) < strings.ToLower(listing.Files[j].Name)
	})

	m.listings.Add(folderPath, listing)
	return listing, nil
}

// CreateFolder creates parent/name/ by writing its marker object and returns
// the new folder path.
func (m *Manager) CreateFolder(ctx context.Context, parentPath, name, actor string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("create folder: %w", ErrInvalidName)
	}
	parentPath = keycodec.EncodePath(NormalizeFolderPath(parentPath))
	folderPath := parentPath + keycodec.Encode(strings.TrimSpace(name)) + "/"

	if err := m.store.Put(ctx, folderPath+objstore.MarkerName, nil, ""); err != nil {
		return "", fmt.Errorf("create folder %q: %w", folderPath, err)
	}
	m.RecordModification(ctx, folderPath, actor)
	m.invalidateListings(parentPath)
	return folderPath, nil
}

// DeleteItem archives the item unless it already lives under the archive
// prefix, in which case it is physically and terminally deleted.
func (m *Manager) DeleteItem(ctx context.Context, itemPath string, isFolder bool, actor string) error {
	if isFolder {
		// A bare "Projet" would otherwise prefix-scan into "Projet2/".
		itemPath = NormalizeFolderPath(itemPath)
	}
	if itemPath == "" || itemPath == ArchivePrefix {
		return fmt.Errorf("delete item: %w", ErrInvalidName)
	}

	if strings.HasPrefix(itemPath, ArchivePrefix) {
		if err := m.purgeItem(ctx, itemPath, isFolder); err != nil {
			return err
		}
	} else {
		dest, err := m.archiver.Archive(ctx, itemPath, isFolder)
		if err != nil {
			return err
		}
		log.Info().Str("item", itemPath).Str("archived_as", dest).Str("actor", actor).Msg("item archived")
	}

	m.forgetModification(ctx, itemPath)
	if isFolder {
		m.invalidateSessionPrefix(itemPath)
	} else {
		m.invalidateSession(itemPath)
	}
	m.invalidateListings(keycodec.ParentPath(itemPath), itemPath)
	return nil
}

// purgeItem removes an archived item for good.
func (m *Manager) purgeItem(ctx context.Context, itemPath string, isFolder bool) error {
	if !isFolder {
		if err := m.store.Delete(ctx, itemPath); err != nil {
			return fmt.Errorf("purge %s: %w", itemPath, err)
		}
		return nil
	}
	var keys []string
	err := m.store.ScanPrefix(ctx, itemPath, func(obj objstore.Object) error {
		keys = append(keys, obj.Key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge %s: %w", itemPath, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.store.DeleteMany(ctx, keys); err != nil {
		return fmt.Errorf("purge %s: %w", itemPath, err)
	}
	return nil
}

// MoveItem relocates a file or a whole folder prefix. Every destination is
// copied before any source is deleted; a copy failure leaves its source in
// place and is reported in the result alongside ErrPartialFailure.
func (m *Manager) MoveItem(ctx context.Context, sourcePath, destPath, actor string) (*BulkResult, error) {
	if sourcePath == "" || destPath == "" || sourcePath == destPath {
		return nil, fmt.Errorf("move item: %w", ErrInvalidName)
	}
	isFolder := strings.HasSuffix(sourcePath, "/")
	if isFolder && !strings.HasSuffix(destPath, "/") {
		destPath += "/"
	}
	if isFolder && strings.HasPrefix(destPath, sourcePath) {
		return nil, fmt.Errorf("move item: destination inside source: %w", ErrInvalidName)
	}

	var (
		result *BulkResult
		err    error
	)
	if isFolder {
		result, err = relocatePrefix(ctx, m.store, sourcePath, destPath)
	} else {
		result, err = relocateKey(ctx, m.store, sourcePath, destPath)
	}
	if err != nil {
		return result, fmt.Errorf("move %s: %w", sourcePath, err)
	}

	m.forgetModification(ctx, sourcePath)
	m.RecordModification(ctx, destPath, actor)
	if isFolder {
		m.invalidateSessionPrefix(sourcePath)
	} else {
		m.invalidateSession(sourcePath)
	}
	m.invalidateListings(
		keycodec.ParentPath(sourcePath), sourcePath,
		keycodec.ParentPath(destPath), destPath,
	)

	if len(result.Failed) > 0 {
		return result, fmt.Errorf("move %s: %d of %d keys: %w",
			sourcePath, len(result.Failed), result.Copied+len(result.Failed), ErrPartialFailure)
	}
	return result, nil
}

// RenameItem gives the item a new display name in place. The collision check
// compares display names via the parent listing, not encoded keys, so
// "Plan général" conflicts with an existing "Plan_général" entry.
func (m *Manager) RenameItem(ctx context.Context, oldPath, newName, actor string) (string, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return "", fmt.Errorf("rename item: %w", ErrInvalidName)
	}
	isFolder := strings.HasSuffix(oldPath, "/")
	parent := keycodec.ParentPath(oldPath)

	listing, err := m.ListFolder(ctx, parent)
	if err != nil {
		return "", err
	}
	for _, f := range listing.Folders {
		if f.Name == newName && f.Path != oldPath {
			return "", fmt.Errorf("rename to %q: %w", newName, ErrNameConflict)
		}
	}
	for _, f := range listing.Files {
		if f.Name == newName && f.Path != oldPath {
			return "", fmt.Errorf("rename to %q: %w", newName, ErrNameConflict)
		}
	}

	destPath := parent + keycodec.Encode(newName)
	if isFolder {
		destPath += "/"
	}
	if destPath == oldPath {
		return oldPath, nil
	}
	if _, err := m.MoveItem(ctx, oldPath, destPath, actor); err != nil {
		return "", err
	}
	return destPath, nil
}

// GetDownloadURL returns a presigned GET forcing a download with the display
// filename.
func (m *Manager) GetDownloadURL(ctx context.Context, filePath string) (string, error) {
	return m.presignWithDisposition(ctx, filePath, "attachment")
}

// GetDisplayURL returns a presigned GET for inline rendering.
func (m *Manager) GetDisplayURL(ctx context.Context, filePath string) (string, error) {
	return m.presignWithDisposition(ctx, filePath, "inline")
}

func (m *Manager) presignWithDisposition(ctx context.Context, filePath, kind string) (string, error) {
	if filePath == "" || strings.HasSuffix(filePath, "/") {
		return "", fmt.Errorf("presign: %w", ErrInvalidName)
	}
	name := keycodec.Decode(keycodec.BaseName(filePath))
	disposition := mime.FormatMediaType(kind, map[string]string{"filename": name})
	u, err := m.store.PresignGet(ctx, filePath, m.downloadTTL, disposition)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", filePath, err)
	}
	return u, nil
}

// GetUploadURL returns a presigned POST form targeting folder/fileName. The
// folder path is accepted in display form as well as key form. The metadata
// record is updated at request time, before the object exists; the record
// reflects intended state.
func (m *Manager) GetUploadURL(ctx context.Context, folderPath, fileName, contentType, actor string) (*UploadTarget, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, fmt.Errorf("upload url: %w", ErrInvalidName)
	}
	key := keycodec.EncodePath(NormalizeFolderPath(folderPath)) + keycodec.Encode(fileName)

	post, err := m.store.PresignPost(ctx, key, m.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload %s: %w", key, err)
	}
	m.RecordModification(ctx, key, actor)
	m.invalidateListings(keycodec.ParentPath(key))
	return &UploadTarget{URL: post.URL, Fields: post.Fields, Key: key}, nil
}

// SearchFiles finds entries matching term under basePath.
func (m *Manager) SearchFiles(ctx context.Context, term, basePath string, maxResults int) ([]search.Result, error) {
	return m.indexer.Search(ctx, term, NormalizeFolderPath(basePath), maxResults)
}

// Breadcrumb returns the trail from the root to folderPath, root excluded.
func Breadcrumb(folderPath string) []Crumb {
	folderPath = NormalizeFolderPath(folderPath)
	if folderPath == "" {
		return nil
	}
	var crumbs []Crumb
	acc := ""
	for _, seg := range strings.Split(strings.TrimSuffix(folderPath, "/"), "/") {
		acc += seg + "/"
		crumbs = append(crumbs, Crumb{Name: keycodec.Decode(seg), Path: acc})
	}
	return crumbs
}

// invalidateListings drops cached listings for the given folder paths.
func (m *Manager) invalidateListings(paths ...string) {
	for _, p := range paths {
		m.listings.Remove(NormalizeFolderPath(p))
	}
}

func (m *Manager) invalidateSession(filePath string) {
	if m.sessions != nil {
		m.sessions.InvalidatePath(filePath)
	}
}

func (m *Manager) invalidateSessionPrefix(folderPath string) {
	if m.sessions != nil {
		m.sessions.InvalidatePrefix(folderPath)
	}
}

// relocateKey copies one object then deletes the source.
func relocateKey(ctx context.Context, store objstore.Store, srcKey, dstKey string) (*BulkResult, error) {
	if err := store.Copy(ctx, srcKey, dstKey); err != nil {
		return &BulkResult{Failed: []string{srcKey}}, err
	}
	if err := store.Delete(ctx, srcKey); err != nil {
		return &BulkResult{Copied: 1}, err
	}
	return &BulkResult{Copied: 1}, nil
}

// relocatePrefix moves every key under srcPrefix to dstPrefix. All copies run
// before any delete, and only sources whose copy succeeded are deleted; an
// empty folder travels through its marker object like any other key.
func relocatePrefix(ctx context.Context, store objstore.Store, srcPrefix, dstPrefix string) (*BulkResult, error) {
	var keys []string
	err := store.ScanPrefix(ctx, srcPrefix, func(obj objstore.Object) error {
		keys = append(keys, obj.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &BulkResult{}
	var copied []string
	for _, key := range keys {
		dst := dstPrefix + strings.TrimPrefix(key, srcPrefix)
		if err := store.Copy(ctx, key, dst); err != nil {
			log.Warn().Err(err).Str("key", key).Str("dest", dst).Msg("copy failed, source kept")
			result.Failed = append(result.Failed, key)
			continue
		}
		copied = append(copied, key)
		result.Copied++
	}
	if len(copied) > 0 {
		if err := store.DeleteMany(ctx, copied); err != nil {
			return result, err
		}
	}
	return result, nil
}
