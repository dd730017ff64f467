// Package testutil provides shared test utilities for sitedocs tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sitedocs/sitedocs/internal/objstore"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "sitedocs-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// SeedStore fills an in-memory object store with the given key -> body pairs.
func SeedStore(t *testing.T, objects map[string]string) *objstore.MemoryStore {
	t.Helper()
	store := objstore.NewMemoryStore()
	for key, body := range objects {
		if err := store.Put(context.Background(), key, []byte(body), ""); err != nil {
			t.Fatalf("failed to seed %s: %v", key, err)
		}
	}
	return store
}
