package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithPath_AppliesDefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8383, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Pool.MaxProcesses)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithPath_ReadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("server:\n  port: 9000\nlogging:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithPath_RejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o644))

	_, err := LoadWithPath(dir)
	assert.Error(t, err)
}

func TestLoadWithPath_RejectsPGXDriverWithoutDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: pgx\n"), 0o644))

	_, err := LoadWithPath(dir)
	assert.Error(t, err)
}

func TestLoadWithPath_RejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: verbose\n"), 0o644))

	_, err := LoadWithPath(dir)
	assert.Error(t, err)
}
