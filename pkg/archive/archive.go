// Package archive writes streaming bundle archives. Entries are appended one
// at a time straight to the underlying writer, nothing is staged on disk or
// held in memory beyond the codec buffers.
package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zhengshuai-xiao/RelayS/internal"
)

// Entry describes one member of the archive.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

type Writer interface {
	// Append copies exactly e.Size bytes from r as entry e.
	Append(ctx context.Context, e Entry, r io.Reader) error
	// Close writes the archive trailer. It must not be called after a failed
	// Append, so an aborted stream is never a well-formed archive.
	Close() error
}

// New returns a Writer for format bound to w.
func New(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case internal.ArchiveZip:
		return newZipWriter(w), nil
	case internal.ArchiveTar:
		return newTarWriter(w), nil
	case internal.ArchiveTarZst:
		return newTarZstWriter(w)
	}
	return nil, fmt.Errorf("unsupported archive format %q", format)
}

// ContentType is the media type of an archive of format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case internal.ArchiveTar:
		return "application/x-tar"
	case internal.ArchiveTarZst:
		return "application/zstd"
	}
	return "application/zip"
}

// Ext is the file extension, with the dot, of an archive of format.
func Ext(format string) string {
	return "." + strings.ToLower(format)
}

// copyEntry copies r to w and fails if r does not hold exactly size bytes.
func copyEntry(ctx context.Context, w io.Writer, e Entry, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := io.Copy(w, io.LimitReader(r, e.Size+1))
	if err != nil {
		return fmt.Errorf("copying %s: %w", e.Name, err)
	}
	if n != e.Size {
		return fmt.Errorf("copying %s: got %d bytes, expected %d", e.Name, n, e.Size)
	}
	return nil
}
