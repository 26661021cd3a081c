// Package export implements ExportService: producing a .apkg ZIP
// archive from a user's collection, per spec.md §4.7.
package export

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"fmt"
	"io"

	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

// PathResolver maps a username to its collection file path.
type PathResolver func(username string) string

// Service builds .apkg archives.
type Service struct {
	registry *session.Registry
	resolve  PathResolver
	clock    clock.Clock
	tmpDir   string
	zipLevel int
}

// New constructs a Service. zipLevel is the deflate level (0..9) from
// config, per spec.md §6.4.
func New(registry *session.Registry, resolve PathResolver, c clock.Clock, tmpDir string, zipLevel int) *Service {
	return &Service{registry: registry, resolve: resolve, clock: c, tmpDir: tmpDir, zipLevel: zipLevel}
}

// Export flushes the user's session, snapshots the collection file under
// the session lock, then builds the ZIP after releasing it so the ZIP
// construction never holds up other requests for that user.
func (s *Service) Export(ctx context.Context, username string) (data []byte, filename string, err error) {
	lease, err := s.registry.Acquire(ctx, username, s.resolve(username))
	if err != nil {
		return nil, "", err
	}

	snapErr := lease.Store.Checkpoint(ctx)
	var snapshot []byte
	if snapErr == nil {
		snapshot, snapErr = lease.Store.SnapshotBytes(ctx, s.tmpDir)
	}
	releaseErr := s.registry.ReleaseAfter(ctx, lease, false, snapErr)
	if snapErr != nil {
		return nil, "", snapErr
	}
	if releaseErr != nil {
		return nil, "", releaseErr
	}

	zipBytes, err := buildApkg(snapshot, s.zipLevel)
	if err != nil {
		return nil, "", err
	}

	filename = fmt.Sprintf("%s_export_%d.apkg", username, s.clock.NowMs())
	return zipBytes, filename, nil
}

func buildApkg(collectionBytes []byte, zipLevel int) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, zipLevel)
	})

	collEntry, err := w.CreateHeader(&zip.FileHeader{
		Name:   "collection.anki2",
		Method: zip.Deflate,
	})
	if err != nil {
		return nil, err
	}
	if _, err := collEntry.Write(collectionBytes); err != nil {
		return nil, err
	}

	mediaEntry, err := w.CreateHeader(&zip.FileHeader{
		Name:   "media",
		Method: zip.Deflate,
	})
	if err != nil {
		return nil, err
	}
	if _, err := mediaEntry.Write([]byte("{}")); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
