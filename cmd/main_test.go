package cmd

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestReorderOptions(t *testing.T) {
	app := &cli.App{
		Flags:    globalFlags(),
		Commands: []*cli.Command{cmdServe(), cmdUpload()},
	}
	testCases := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			"Global Flag After Command",
			[]string{"relays", "serve", "--listen", ":8080", "--verbose"},
			[]string{"relays", "--verbose", "serve", "--listen", ":8080"},
		},
		{
			"Global Flag With Value",
			[]string{"relays", "serve", "-c", "/etc/relays.yaml", "-d"},
			[]string{"relays", "-c", "/etc/relays.yaml", "serve", "-d"},
		},
		{
			"Upload Files Last",
			[]string{"relays", "upload", "a.nc", "--site", "x", "b.nc"},
			[]string{"relays", "upload", "--site", "x", "a.nc", "b.nc"},
		},
		{
			"No Command",
			[]string{"relays", "--trace"},
			[]string{"relays", "--trace"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, reorderOptions(app, tc.args))
		})
	}
}

type fakeRelay struct {
	mu       sync.Mutex
	known    map[string]bool
	received map[string][]byte
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("X-Relay-Site") != "lindenberg" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload/metadata":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		checksum := body["checksum"].(string)
		if f.known[checksum] {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"status": 409, "errors": "File already uploaded"}`))
			return
		}
		f.known[checksum] = true
		w.Write([]byte(`{"id": "x"}`))
	case r.Method == http.MethodPut && r.ContentLength >= 0:
		data, _ := io.ReadAll(r.Body)
		sum := md5.Sum(data)
		checksum := filepath.Base(r.URL.Path)
		if hex.EncodeToString(sum[:]) != checksum || int64(len(data)) != r.ContentLength {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.received[checksum] = data
		w.Write([]byte(`{"status": "uploaded"}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestUploadCommand(t *testing.T) {
	relay := &fakeRelay{known: map[string]bool{}, received: map[string][]byte{}}
	srv := httptest.NewServer(relay)
	defer srv.Close()

	dir := t.TempDir()
	a := filepath.Join(dir, "20240501_chm15k.nc")
	b := filepath.Join(dir, "20240501_hatpro.nc")
	require.NoError(t, os.WriteFile(a, []byte("ceilometer"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("radiometer"), 0600))

	args := []string{"relays", "upload", "--server", srv.URL, "--site", "lindenberg", "--date", "2024-05-01", a, b}
	require.NoError(t, Main(args))
	assert.Len(t, relay.received, 2)

	// registered already: skipped without sending data again
	relay.received = map[string][]byte{}
	require.NoError(t, Main(args))
	assert.Empty(t, relay.received)

	args = []string{"relays", "upload", "--server", srv.URL, "--site", "elsewhere", "--date", "2024-05-01", a}
	assert.Error(t, Main(args))
}
