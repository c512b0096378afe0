package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := LoadConfig("")
	require.NoError(t, err)
	assert.NoError(t, conf.Validate())
	assert.Equal(t, 72*time.Hour, conf.Retention())
	assert.Equal(t, BackendMinio, conf.Backend.Type)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relays.yaml")
	content := `
listen: 0.0.0.0:9090
meta_addr: 10.0.0.1:6379/2
backend:
  type: s3
  endpoint: https://s3.example.org
buckets:
  upload: site-upload
  categories:
    product: site-product
retention_window: 1d12h
archive_format: tar
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, conf.Validate())
	assert.Equal(t, "0.0.0.0:9090", conf.Listen)
	assert.Equal(t, BackendAWS, conf.Backend.Type)
	assert.Equal(t, "site-upload", conf.Buckets.Upload)
	assert.Equal(t, "site-product", conf.Buckets.Categories["product"])
	assert.Equal(t, 36*time.Hour, conf.Retention())
	assert.Equal(t, ArchiveTar, conf.ArchiveFormat)
	// untouched keys keep their defaults
	assert.Equal(t, "X-Relay-Site", conf.SiteHeader)
}

func TestConfigValidate(t *testing.T) {
	conf := DefaultConfig()
	conf.Backend.Type = "ftp"
	assert.Error(t, conf.Validate())

	conf = DefaultConfig()
	conf.ArchiveFormat = "rar"
	assert.Error(t, conf.Validate())

	conf = DefaultConfig()
	conf.RetentionWindow = "never"
	assert.Error(t, conf.Validate())
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("RELAYS_ACCESS_KEY", "")
	t.Setenv("MINIO_ROOT_USER", "admin")
	t.Setenv("RELAYS_SECRET_KEY", "secret123")

	conf := DefaultConfig()
	conf.LoadCredentials()
	assert.Equal(t, "admin", conf.Backend.AccessKey)
	assert.Equal(t, "secret123", conf.Backend.SecretKey)
}
