// Package objstore provides thin, retryable primitives over the object-store
// API: prefix listing with delimiter, get/put/copy/delete, presigned URLs and
// metadata heads. It owns no state; the bucket is the single source of truth.
package objstore

import (
	"context"
	"errors"
	"io"
	"path"
	"time"
)

// Internal object names that never surface as drive entries.
const (
	// MarkerName is the empty object that makes an otherwise-empty folder
	// visible in listings.
	MarkerName = ".keep"

	// MetadataName is the per-folder JSON record of last-modified-by labels.
	MetadataName = ".metadata.json"
)

// Store error taxonomy. NotFound is a normal outcome on reads and heads and
// is never retried; everything transient surfaces as ErrStoreUnavailable
// after the client's bounded retries are exhausted.
var (
	ErrNotFound         = errors.New("object not found")
	ErrStoreUnavailable = errors.New("object store unavailable")
)

// ErrStopScan terminates a ScanPrefix walk early without error.
var ErrStopScan = errors.New("stop scan")

// Meta is the metadata returned by a head request.
type Meta struct {
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Object is one stored object as seen in a listing.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Listing is one level of a prefix+delimiter listing: common prefixes
// (folders) and direct children (files). Marker and metadata objects are
// filtered out.
type Listing struct {
	Folders []string
	Files   []Object
}

// PresignedPost carries everything a browser needs for a direct form upload.
type PresignedPost struct {
	URL    string
	Fields map[string]string
}

// Store is the set of object-store primitives the drive layer builds on.
type Store interface {
	// List returns the folders and files directly under prefix.
	List(ctx context.Context, prefix string) (*Listing, error)

	// Get reads an entire object into memory.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetStream opens an object for streaming reads.
	GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, error)

	// Put writes a whole object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Upload streams an object of unknown size into the store.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error

	// Copy duplicates an object inside the bucket.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete removes a single object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes a batch of objects.
	DeleteMany(ctx context.Context, keys []string) error

	// HeadMeta returns object metadata, or ErrNotFound.
	HeadMeta(ctx context.Context, key string) (*Meta, error)

	// PresignGet returns a time-limited GET URL. contentDisposition, when
	// non-empty, is pinned into the response headers.
	PresignGet(ctx context.Context, key string, ttl time.Duration, contentDisposition string) (string, error)

	// PresignPost returns a time-limited browser-upload form target.
	PresignPost(ctx context.Context, key string, ttl time.Duration) (*PresignedPost, error)

	// ScanPrefix walks every key under prefix, at all nesting levels, in key
	// order. fn may return ErrStopScan to terminate the walk early. The walk
	// is restartable only from the start; no resumable cursor is exposed.
	ScanPrefix(ctx context.Context, prefix string, fn func(Object) error) error
}

// IsInternalKey reports whether key is a marker or metadata object that must
// not surface as a drive entry.
func IsInternalKey(key string) bool {
	base := path.Base(key)
	return base == MarkerName || base == MetadataName
}
