package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// metadataRecord is the per-folder ".metadata.json" content: display name of
// a direct child mapped to the label of whoever last modified it. Records are
// advisory; a lost update under concurrent writers is accepted.
type metadataRecord map[string]string

// loadRecord reads a folder's metadata record. A missing or unreadable
// record is an empty one, never an error.
func (m *Manager) loadRecord(ctx context.Context, folderPath string) metadataRecord {
	data, err := m.store.Get(ctx, folderPath+objstore.MetadataName)
	if errors.Is(err, objstore.ErrNotFound) {
		return metadataRecord{}
	}
	if err != nil {
		log.Warn().Err(err).Str("folder", folderPath).Msg("metadata record unreadable")
		return metadataRecord{}
	}
	rec := metadataRecord{}
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("folder", folderPath).Msg("metadata record corrupt, starting fresh")
		return metadataRecord{}
	}
	return rec
}

// saveRecord writes a folder's metadata record back.
func (m *Manager) saveRecord(ctx context.Context, folderPath string, rec metadataRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata record: %w", err)
	}
	if err := m.store.Put(ctx, folderPath+objstore.MetadataName, data, "application/json"); err != nil {
		return fmt.Errorf("save metadata record: %w", err)
	}
	return nil
}

// RecordModification marks the entry at entryPath as last modified by actor
// in its parent folder's record. Failures are logged, not surfaced; the
// record is best-effort bookkeeping.
func (m *Manager) RecordModification(ctx context.Context, entryPath, actor string) {
	if actor == "" || entryPath == "" {
		return
	}
	parent := keycodec.ParentPath(entryPath)
	name := keycodec.Decode(keycodec.BaseName(entryPath))

	rec := m.loadRecord(ctx, parent)
	rec[name] = actor
	if err := m.saveRecord(ctx, parent, rec); err != nil {
		log.Warn().Err(err).Str("entry", entryPath).Msg("record modification failed")
	}
}

// forgetModification drops the entry at entryPath from its parent folder's
// record, after an archive or a move away.
func (m *Manager) forgetModification(ctx context.Context, entryPath string) {
	parent := keycodec.ParentPath(entryPath)
	name := keycodec.Decode(keycodec.BaseName(entryPath))

	rec := m.loadRecord(ctx, parent)
	if _, ok := rec[name]; !ok {
		return
	}
	delete(rec, name)
	if err := m.saveRecord(ctx, parent, rec); err != nil {
		log.Warn().Err(err).Str("entry", entryPath).Msg("metadata record prune failed")
	}
}
