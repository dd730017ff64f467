package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors the S3 semantics the drive layer depends on: flat key space,
// delimiter-derived folders, absent-key deletes succeed.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetLastModified rewrites an object's timestamp for tests.
func (m *MemoryStore) SetLastModified(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.lastModified = t
		m.objects[key] = obj
	}
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Keys returns all stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// List returns the folders and files directly under prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	listing := &Listing{}
	seenFolders := make(map[string]bool)

	for _, key := range m.sortedKeysLocked() {
		if !strings.HasPrefix(key, prefix) || key == prefix {
			continue
		}
		rest := key[len(prefix):]
		if idx := strings.Index(rest, "/"); idx >= 0 {
			folder := prefix + rest[:idx+1]
			if !seenFolders[folder] {
				seenFolders[folder] = true
				listing.Folders = append(listing.Folders, folder)
			}
			continue
		}
		if IsInternalKey(key) {
			continue
		}
		obj := m.objects[key]
		listing.Files = append(listing.Files, Object{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}
	return listing, nil
}

// Get reads an entire object into memory.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

// GetStream opens an object for streaming reads.
func (m *MemoryStore) GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, error) {
	data, err := m.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	meta, err := m.HeadMeta(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

// Put writes a whole object.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = memoryObject{
		data:         stored,
		contentType:  contentType,
		lastModified: m.now().UTC(),
	}
	return nil
}

// Upload streams an object into the store.
func (m *MemoryStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("upload %s: %w: %v", key, ErrStoreUnavailable, err)
	}
	return m.Put(ctx, key, data, contentType)
}

// Copy duplicates an object. The copy gets a fresh timestamp, as S3 does.
func (m *MemoryStore) Copy(_ context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("copy %s: %w", srcKey, ErrNotFound)
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	m.objects[dstKey] = memoryObject{
		data:         data,
		contentType:  src.contentType,
		lastModified: m.now().UTC(),
	}
	return nil
}

// Delete removes a single object. Absent keys are not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// DeleteMany removes a batch of objects.
func (m *MemoryStore) DeleteMany(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

// HeadMeta returns object metadata, or ErrNotFound.
func (m *MemoryStore) HeadMeta(_ context.Context, key string) (*Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("head %s: %w", key, ErrNotFound)
	}
	return &Meta{
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.lastModified,
	}, nil
}

// PresignGet returns a deterministic fake URL for the object.
func (m *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration, contentDisposition string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("presign get %s: %w", key, ErrNotFound)
	}
	u := "https://store.invalid/" + escapeKey(key) + "?ttl=" + ttl.String()
	if contentDisposition != "" {
		u += "&disposition=" + url.QueryEscape(contentDisposition)
	}
	return u, nil
}

// PresignPost returns a deterministic fake upload form target.
func (m *MemoryStore) PresignPost(_ context.Context, key string, ttl time.Duration) (*PresignedPost, error) {
	return &PresignedPost{
		URL: "https://store.invalid/",
		Fields: map[string]string{
			"key":            key,
			"x-amz-expires":  ttl.String(),
			"x-amz-fake-sig": "memory",
		},
	}, nil
}

// ScanPrefix walks every key under prefix in key order.
func (m *MemoryStore) ScanPrefix(_ context.Context, prefix string, fn func(Object) error) error {
	m.mu.RLock()
	snapshot := make([]Object, 0, len(m.objects))
	for _, key := range m.sortedKeysLocked() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := m.objects[key]
		snapshot = append(snapshot, Object{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}
	m.mu.RUnlock()

	for _, obj := range snapshot {
		err := fn(obj)
		if errors.Is(err, ErrStopScan) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sortedKeysLocked returns all keys sorted; callers hold at least a read lock.
func (m *MemoryStore) sortedKeysLocked() []string {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
