package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPidFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		assert.NoError(t, CheckPidFile(filepath.Join(dir, "none.pid")))
	})

	t.Run("Live Process", func(t *testing.T) {
		path := filepath.Join(dir, "live.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))
		err := CheckPidFile(path)
		assert.True(t, errors.Is(err, ErrRunning))
		assert.FileExists(t, path)
	})

	t.Run("Stale", func(t *testing.T) {
		path := filepath.Join(dir, "stale.pid")
		// above any pid_max, so it cannot be alive
		require.NoError(t, os.WriteFile(path, []byte("999999999"), 0644))
		assert.NoError(t, CheckPidFile(path))
		assert.NoFileExists(t, path)
	})
}

func TestStripBackground(t *testing.T) {
	args := []string{"relays", "serve", "-d", "--listen", "0.0.0.0:8080", "--background"}
	assert.Equal(t, []string{"relays", "serve", "--listen", "0.0.0.0:8080"}, StripBackground(args))
}
