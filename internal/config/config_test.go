package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "/storage/emulated/0/Android/data/tv.danmaku.bili/download", cfg.BiliRoot)
	assert.Equal(t, "/data/local/tmp", cfg.RemoteTmpDir)
	assert.Equal(t, int64(10*1024*1024), cfg.Transfer.ChunkSize)
	assert.Equal(t, int64(1024), cfg.Transfer.Overlap)
	assert.Equal(t, int64(1024), cfg.Transfer.BlockSize)
	assert.Equal(t, 5, cfg.Transfer.TaskRetries)
	assert.Equal(t, 5*time.Second, cfg.Transfer.TaskBackoffBase)
	assert.True(t, cfg.Transfer.CleanupRemote)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_level = "debug"
bili_root = "/sdcard/Android/data/tv.danmaku.bili/download"

[rish]
bin_path = "/usr/local/bin/rish"
app_id = "tv.danmaku.bili"

[transfer]
chunk_size = 4194304
chunk_retries = 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/sdcard/Android/data/tv.danmaku.bili/download", cfg.BiliRoot)
	assert.Equal(t, "/usr/local/bin/rish", cfg.Rish.BinPath)
	assert.Equal(t, int64(4194304), cfg.Transfer.ChunkSize)
	assert.Equal(t, 3, cfg.Transfer.ChunkRetries)
	// Untouched keys keep defaults.
	assert.Equal(t, int64(1024), cfg.Transfer.Overlap)
}

func TestLoadDefaultLocation(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	cfgDir := filepath.Join(xdg, AppName)
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	content := "log_level = \"warn\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.toml"), []byte(content), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BILICACHE_LOG_LEVEL", "error")
	t.Setenv("BILICACHE_RISH_BIN_PATH", "/opt/rish")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "/opt/rish", cfg.Rish.BinPath)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero chunk size", func(c *Config) { c.Transfer.ChunkSize = 0 }, false},
		{"overlap equals chunk", func(c *Config) { c.Transfer.Overlap = c.Transfer.ChunkSize }, false},
		{"negative overlap", func(c *Config) { c.Transfer.Overlap = -1 }, false},
		{"zero block size", func(c *Config) { c.Transfer.BlockSize = 0 }, false},
		{"negative retries", func(c *Config) { c.Transfer.TaskRetries = -1 }, false},
		{"empty bili root", func(c *Config) { c.BiliRoot = "" }, false},
		{"empty remote tmp", func(c *Config) { c.RemoteTmpDir = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTransferOptions(t *testing.T) {
	cfg := Default()
	cfg.Transfer.ChunkSize = 2048
	cfg.Transfer.Overlap = 256
	cfg.Transfer.CleanupRemote = false

	opts := cfg.TransferOptions()
	assert.Equal(t, int64(2048), opts.Chunk.ChunkSize)
	assert.Equal(t, int64(256), opts.Chunk.Overlap)
	assert.False(t, opts.CleanupRemote)
	assert.Equal(t, cfg.BiliRoot, opts.BiliRoot)
	assert.Equal(t, cfg.CacheDir, opts.CacheDir)
}
