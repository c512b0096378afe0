package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

var testEntries = []struct {
	name string
	data string
}{
	{"20240501_hyytiala_chm15k.nc", "first file"},
	{"20240501_hyytiala_rpg-fmcw-94.LV1", strings.Repeat("radar", 1000)},
	{"empty.txt", ""},
}

func writeAll(t *testing.T, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := New(format, &buf)
	require.NoError(t, err)
	mod := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range testEntries {
		err := w.Append(context.Background(), Entry{Name: e.name, Size: int64(len(e.data)), ModTime: mod}, strings.NewReader(e.data))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func readTar(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	got := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		got[h.Name] = string(data)
	}
	return got
}

func expected() map[string]string {
	m := make(map[string]string)
	for _, e := range testEntries {
		m[e.name] = e.data
	}
	return m
}

func TestZipRoundTrip(t *testing.T) {
	data := writeAll(t, internal.ArchiveZip)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	got := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		got[f.Name] = string(content)
	}
	assert.Equal(t, expected(), got)
}

func TestTarRoundTrip(t *testing.T) {
	data := writeAll(t, internal.ArchiveTar)
	assert.Equal(t, expected(), readTar(t, bytes.NewReader(data)))
}

func TestTarZstRoundTrip(t *testing.T) {
	data := writeAll(t, internal.ArchiveTarZst)
	dec, err := zstd.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer dec.Close()
	assert.Equal(t, expected(), readTar(t, dec))
}

func TestAppendSizeMismatch(t *testing.T) {
	for _, format := range []string{internal.ArchiveZip, internal.ArchiveTar} {
		t.Run(format, func(t *testing.T) {
			w, err := New(format, io.Discard)
			require.NoError(t, err)
			err = w.Append(context.Background(), Entry{Name: "short", Size: 10}, strings.NewReader("abc"))
			assert.Error(t, err)
		})
	}
}

func TestAppendCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w, err := New(internal.ArchiveTar, io.Discard)
	require.NoError(t, err)
	err = w.Append(ctx, Entry{Name: "a", Size: 1}, strings.NewReader("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := New("rar", io.Discard)
	assert.Error(t, err)
	assert.Equal(t, "application/zip", ContentType(internal.ArchiveZip))
	assert.Equal(t, "application/x-tar", ContentType(internal.ArchiveTar))
	assert.Equal(t, ".tar.zst", Ext(internal.ArchiveTarZst))
}
