package internal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMinio = "minio"
	BackendAWS   = "s3"

	ArchiveZip    = "zip"
	ArchiveTar    = "tar"
	ArchiveTarZst = "tar.zst"
)

// BackendConfig describes the S3-compatible storage backend.
type BackendConfig struct {
	Type      string `yaml:"type"`     // minio or s3
	Endpoint  string `yaml:"endpoint"` // e.g. http://127.0.0.1:9000
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

// BucketConfig maps object categories to buckets. Volatile products go to
// "<bucket>-volatile"; Legacy holds objects not yet migrated.
type BucketConfig struct {
	Upload     string            `yaml:"upload"`
	Categories map[string]string `yaml:"categories"`
	Legacy     string            `yaml:"legacy"`
}

type Config struct {
	Listen          string        `yaml:"listen"`
	MetaAddr        string        `yaml:"meta_addr"`
	Backend         BackendConfig `yaml:"backend"`
	Buckets         BucketConfig  `yaml:"buckets"`
	RetentionWindow string        `yaml:"retention_window"` // allow-update freshness, e.g. "3d"
	ArchiveFormat   string        `yaml:"archive_format"`
	SiteHeader      string        `yaml:"site_header"`
	AccessLogCap    int64         `yaml:"access_log_cap"`
	LogDir          string        `yaml:"log_dir"`
	LogLevel        string        `yaml:"log_level"`
}

// DefaultConfig returns the settings used when neither a config file nor a
// flag provides a value.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		MetaAddr: "127.0.0.1:6379/1",
		Backend: BackendConfig{
			Type:     BackendMinio,
			Endpoint: "http://127.0.0.1:9000",
			Region:   "us-east-1",
		},
		Buckets: BucketConfig{
			Upload: "relays-upload",
			Categories: map[string]string{
				"upload":  "relays-upload",
				"product": "relays-product",
			},
			Legacy: "relays-legacy",
		},
		RetentionWindow: "3d",
		ArchiveFormat:   ArchiveZip,
		SiteHeader:      "X-Relay-Site",
		AccessLogCap:    100000,
		LogLevel:        "info",
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return conf, nil
}

// LoadCredentials fills the backend keys from the environment.
func (c *Config) LoadCredentials() {
	c.Backend.AccessKey = firstEnv("RELAYS_ACCESS_KEY", "MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	c.Backend.SecretKey = firstEnv("RELAYS_SECRET_KEY", "MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")
}

// Retention returns the parsed allow-update retention window.
func (c *Config) Retention() time.Duration {
	return Duration(c.RetentionWindow)
}

func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendMinio, BackendAWS:
	default:
		return fmt.Errorf("invalid backend type %q, must be %q or %q", c.Backend.Type, BackendMinio, BackendAWS)
	}
	switch strings.ToLower(c.ArchiveFormat) {
	case ArchiveZip, ArchiveTar, ArchiveTarZst:
	default:
		return fmt.Errorf("invalid archive format %q, must be one of %q, %q, %q", c.ArchiveFormat, ArchiveZip, ArchiveTar, ArchiveTarZst)
	}
	if c.Buckets.Upload == "" {
		return fmt.Errorf("upload bucket cannot be empty")
	}
	if c.Retention() <= 0 {
		return fmt.Errorf("invalid retention window %q", c.RetentionWindow)
	}
	if c.SiteHeader == "" {
		return fmt.Errorf("site header cannot be empty")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
