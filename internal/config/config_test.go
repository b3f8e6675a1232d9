package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	path := filepath.Join(t.TempDir(), "xradio.yaml")
	data := []byte(`
store:
  location: gs://bucket/data
convert:
  partition_scheme: scan/subscan
  chunk_target: 16 MiB
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/data", cfg.Store.Location)
	assert.Equal(t, "scan/subscan", cfg.Convert.PartitionScheme)
	assert.Equal(t, "zstd", cfg.Convert.Compressor)
	assert.Equal(t, 4, cfg.Convert.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())

	n, err := cfg.Convert.ChunkTargetBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(16<<20), n)

	require.NoError(t, os.WriteFile(path, []byte("store: [\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvStore, "/data/ps")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data/ps", cfg.Store.Location)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvStore, "")
	t.Setenv(EnvLogLevel, "")

	cfg := DefaultConfig()
	cfg.Convert.ChunkTarget = "1 GB"
	path := filepath.Join(t.TempDir(), "nested", "xradio.yaml")
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"scheme":      func(c *Config) { c.Convert.PartitionScheme = "field" },
		"compressor":  func(c *Config) { c.Convert.Compressor = "lz4" },
		"concurrency": func(c *Config) { c.Convert.Concurrency = 0 },
		"chunks":      func(c *Config) { c.Convert.ChunkTarget = "lots" },
		"log level":   func(c *Config) { c.Logging.Level = "trace" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGCSLocation(t *testing.T) {
	bucket, prefix, ok := GCSLocation("gs://radio/obs/2024")
	assert.True(t, ok)
	assert.Equal(t, "radio", bucket)
	assert.Equal(t, "obs/2024", prefix)

	bucket, prefix, ok = GCSLocation("gs://radio")
	assert.True(t, ok)
	assert.Equal(t, "radio", bucket)
	assert.Equal(t, "", prefix)

	_, _, ok = GCSLocation("/local/path")
	assert.False(t, ok)
}
