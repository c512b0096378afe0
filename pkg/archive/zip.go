package archive

import (
	"context"
	"io"

	"github.com/klauspost/compress/zip"
)

type zipWriter struct {
	zw *zip.Writer
}

func newZipWriter(w io.Writer) *zipWriter {
	return &zipWriter{zw: zip.NewWriter(w)}
}

func (z *zipWriter) Append(ctx context.Context, e Entry, r io.Reader) error {
	header := &zip.FileHeader{
		Name:               e.Name,
		Method:             zip.Store, // instrument files are mostly compressed already
		Modified:           e.ModTime,
		UncompressedSize64: uint64(e.Size),
	}
	header.SetMode(0644)
	w, err := z.zw.CreateHeader(header)
	if err != nil {
		return err
	}
	return copyEntry(ctx, w, e, r)
}

func (z *zipWriter) Close() error {
	return z.zw.Close()
}
