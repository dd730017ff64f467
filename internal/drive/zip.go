package drive

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/sitedocs/sitedocs/internal/keycodec"
	"github.com/sitedocs/sitedocs/internal/objstore"
)

// DownloadFolderAsZip streams every file under folderPath into a zip archive
// written to w, entry names decoded to display form relative to the folder.
// A file that fails to read is logged and skipped; the export keeps going and
// the number of skipped files is returned.
func (m *Manager) DownloadFolderAsZip(ctx context.Context, folderPath string, w io.Writer) (int, error) {
	folderPath = NormalizeFolderPath(folderPath)

	zw := zip.NewWriter(w)
	skipped := 0

	err := m.store.ScanPrefix(ctx, folderPath, func(obj objstore.Object) error {
		if objstore.IsInternalKey(obj.Key) {
			return nil
		}
		rel := keycodec.DecodePath(obj.Key[len(folderPath):])

		body, _, err := m.store.GetStream(ctx, obj.Key)
		if err != nil {
			log.Warn().Err(err).Str("key", obj.Key).Msg("zip export: skipping unreadable file")
			skipped++
			return nil
		}
		defer body.Close()

		header := &zip.FileHeader{Name: rel, Method: zip.Deflate}
		header.Modified = obj.LastModified
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", rel, err)
		}
		if _, err := io.Copy(entry, body); err != nil {
			return fmt.Errorf("zip write %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return skipped, fmt.Errorf("zip folder %q: %w", folderPath, err)
	}
	if err := zw.Close(); err != nil {
		return skipped, fmt.Errorf("zip folder %q: close: %w", folderPath, err)
	}
	return skipped, nil
}
