package lcfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "127.0.0.1", cfg.Host)
	require.Equal(t, 5600, cfg.Port)
	require.Equal(t, 128, cfg.CacheBlocks)
	require.NotNil(t, cfg.Logger)
}

func TestWithDefaultsFillsZeroFields(t *testing.T) {
	cfg := (&Config{Host: "controller.local"}).withDefaults()
	require.Equal(t, "controller.local", cfg.Host)
	require.Equal(t, 5600, cfg.Port)
	require.Equal(t, 128, cfg.CacheBlocks)
	require.Equal(t, 5*time.Second, cfg.DialTimeout)
}

func TestWithDefaultsOnNilConfig(t *testing.T) {
	var cfg *Config
	require.Equal(t, DefaultConfig().Host, cfg.withDefaults().Host)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lcfs.ini")
	contents := "[lcfs]\nhost = 10.0.0.5\nport = 6000\ncache_blocks = 64\ndial_timeout_ms = 2500\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", cfg.Host)
	require.Equal(t, 6000, cfg.Port)
	require.Equal(t, 64, cfg.CacheBlocks)
	require.Equal(t, 2500*time.Millisecond, cfg.DialTimeout)
}

func TestLoadConfigFileMissingFieldsFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lcfs.ini")
	require.NoError(t, os.WriteFile(path, []byte("[lcfs]\nhost = 10.0.0.9\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9", cfg.Host)
	require.Equal(t, 5600, cfg.Port)
}

func TestAddrJoinsHostAndPort(t *testing.T) {
	cfg := &Config{Host: "example.com", Port: 1234}
	require.Equal(t, "example.com:1234", cfg.addr())
}
