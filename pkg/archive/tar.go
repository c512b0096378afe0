package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

type tarWriter struct {
	tw *tar.Writer
}

func newTarWriter(w io.Writer) *tarWriter {
	return &tarWriter{tw: tar.NewWriter(w)}
}

func (t *tarWriter) Append(ctx context.Context, e Entry, r io.Reader) error {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.Name,
		Size:     e.Size,
		Mode:     0644,
		ModTime:  e.ModTime,
		Format:   tar.FormatPAX,
	}
	if err := t.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", e.Name, err)
	}
	return copyEntry(ctx, t.tw, e, r)
}

func (t *tarWriter) Close() error {
	return t.tw.Close()
}

// tarZstWriter is a tar stream compressed with zstd.
type tarZstWriter struct {
	*tarWriter
	enc *zstd.Encoder
}

func newTarZstWriter(w io.Writer) (*tarZstWriter, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &tarZstWriter{tarWriter: newTarWriter(enc), enc: enc}, nil
}

func (t *tarZstWriter) Close() error {
	if err := t.tarWriter.Close(); err != nil {
		t.enc.Close()
		return err
	}
	return t.enc.Close()
}
