package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Blob.Backend)
	assert.Equal(t, "rustler:files", cfg.Queue.Name)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, []string{"validate", "checksum"}, cfg.Worker.Processors)
	assert.Equal(t, int64(100*1024*1024), cfg.Ingest.MaxFileSize)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, "localhost:8080", cfg.ListenAddress())

	// No DSN is configured by default.
	assert.ErrorContains(t, cfg.Validate(), "database.dsn")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: /tmp/rustler.db
queue:
  visibility_timeout: 90s
worker:
  concurrency: 8
  heartbeat_interval: 30s
  processors: [validate, checksum, text-summary]
server:
  addr: 0.0.0.0
  port: "9000"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, []string{"validate", "checksum", "text-summary"}, cfg.Worker.Processors)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddress())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: postgres\n")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/rustler")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("RUSTLER_QUEUE_NAME", "custom:files")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/rustler", cfg.Database.DSN)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, "custom:files", cfg.Queue.Name)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := LoadConfig(writeConfig(t, "log:\n  level: info\n"))
		require.NoError(t, err)
		cfg.Database.DSN = "postgres://localhost/rustler"
		require.NoError(t, cfg.Validate())
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"unknown blob backend", func(c *Config) { c.Blob.Backend = "gcs" }, "blob.backend"},
		{"s3 without bucket", func(c *Config) { c.Blob.Backend = "s3" }, "blob.s3.bucket"},
		{"s3 half credentials", func(c *Config) {
			c.Blob.Backend = "s3"
			c.Blob.S3.Bucket = "b"
			c.Blob.S3.AccessKeyID = "id"
		}, "must be set together"},
		{"no redis", func(c *Config) { c.Redis.Address = "" }, "redis"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"deliveries below attempts", func(c *Config) { c.Queue.MaxDeliveries = 2 }, "queue.max_deliveries"},
		{"heartbeat not below visibility", func(c *Config) { c.Worker.HeartbeatInterval = c.Queue.VisibilityTimeout }, "worker.heartbeat_interval"},
		{"backoff inverted", func(c *Config) { c.Worker.BackoffMax = time.Millisecond }, "worker.backoff_base"},
		{"no processors", func(c *Config) { c.Worker.Processors = nil }, "worker.processors"},
		{"zero max file size", func(c *Config) { c.Ingest.MaxFileSize = 0 }, "ingest.max_file_size"},
		{"kafka without topic", func(c *Config) {
			c.Notify.Kafka.Brokers = []string{"localhost:9092"}
			c.Notify.Kafka.Topic = ""
		}, "notify.kafka.topic"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
