package drive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// ArchivePrefix is the reserved top-level folder holding archived items.
// Entries under it are never archived again; deleting one is terminal.
const ArchivePrefix = "Historique/"

// DefaultRetention is how long archived items are kept before the purge job
// removes them.
const DefaultRetention = 30 * 24 * time.Hour

// archiveTimeFormat is sortable and key-safe (no colons, no spaces).
const archiveTimeFormat = "20060102-150405"

// rootOriginLabel stands in for an empty origin path in archive names.
const rootOriginLabel = "racine"

// SessionInvalidator drops cached editor sessions bound to a storage path,
// or to every path under a folder prefix when a whole folder goes away.
// Implemented by the editor gateway; wired in at startup.
type SessionInvalidator interface {
	InvalidatePath(path string)
	InvalidatePrefix(prefix string)
}

// Archiver relocates items under ArchivePrefix instead of deleting them, and
// purges archived items past their retention age.
type Archiver struct {
	store objstore.Store
	now   func() time.Time
}

// NewArchiver returns an archiver over store.
func NewArchiver(store objstore.Store) *Archiver {
	return &Archiver{store: store, now: time.Now}
}

// SetClock overrides the timestamp source for tests.
func (a *Archiver) SetClock(now func() time.Time) {
	a.now = now
}

// Archive moves the item at itemPath under ArchivePrefix and returns the
// destination path. Folder moves copy every key before deleting any source.
func (a *Archiver) Archive(ctx context.Context, itemPath string, isFolder bool) (string, error) {
	dest, err := a.reserveDestination(ctx, itemPath, isFolder)
	if err != nil {
		return "", err
	}

	if !isFolder {
		if err := a.store.Copy(ctx, itemPath, dest); err != nil {
			return "", fmt.Errorf("archive %s: %w", itemPath, err)
		}
		if err := a.store.Delete(ctx, itemPath); err != nil {
			return "", fmt.Errorf("archive %s: remove source: %w", itemPath, err)
		}
		return dest, nil
	}

	result, err := relocatePrefix(ctx, a.store, itemPath, dest)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", itemPath, err)
	}
	if len(result.Failed) > 0 {
		return dest, fmt.Errorf("archive %s: %d of %d keys: %w",
			itemPath, len(result.Failed), result.Copied+len(result.Failed), ErrPartialFailure)
	}
	return dest, nil
}

// reserveDestination builds the archive name for itemPath:
// Historique/{base}__{flattenedOrigin}__{timestamp}[.ext][/]. A second
// archive of the same name within one second gets a numeric suffix.
func (a *Archiver) reserveDestination(ctx context.Context, itemPath string, isFolder bool) (string, error) {
	base := keycodec.BaseName(itemPath)
	ext := ""
	if !isFolder {
		ext = path.Ext(base)
		base = strings.TrimSuffix(base, ext)
	}

	origin := strings.TrimSuffix(keycodec.ParentPath(itemPath), "/")
	origin = strings.ReplaceAll(origin, "/", "-")
	if origin == "" {
		origin = rootOriginLabel
	}
	stamp := a.now().UTC().Format(archiveTimeFormat)

	for n := 0; n < 100; n++ {
		suffix := ""
		if n > 0 {
			suffix = fmt.Sprintf("-%d", n+1)
		}
		dest := ArchivePrefix + base + "__" + origin + "__" + stamp + suffix + ext
		if isFolder {
			dest += "/"
		}
		occupied, err := a.destinationOccupied(ctx, dest, isFolder)
		if err != nil {
			return "", err
		}
		if !occupied {
			return dest, nil
		}
	}
	return "", fmt.Errorf("archive %s: no free destination name", itemPath)
}

func (a *Archiver) destinationOccupied(ctx context.Context, dest string, isFolder bool) (bool, error) {
	if !isFolder {
		_, err := a.store.HeadMeta(ctx, dest)
		if errors.Is(err, objstore.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	found := false
	err := a.store.ScanPrefix(ctx, dest, func(objstore.Object) error {
		found = true
		return objstore.ErrStopScan
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// PurgeOlderThan physically deletes archived objects whose stored timestamp
// is older than age, and returns how many were removed. The archive copy
// rewrites timestamps, so an object's age in the store is its time since
// archiving.
func (a *Archiver) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := a.now().Add(-age)

	var expired []string
	err := a.store.ScanPrefix(ctx, ArchivePrefix, func(obj objstore.Object) error {
		if obj.LastModified.Before(cutoff) {
			expired = append(expired, obj.Key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan archive: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := a.store.DeleteMany(ctx, expired); err != nil {
		return 0, fmt.Errorf("purge archive: %w", err)
	}
	log.Info().Int("objects", len(expired)).Dur("age", age).Msg("purged expired archive items")
	return len(expired), nil
}
