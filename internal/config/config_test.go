package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "storage"))
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "data", "repage.db"))
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "RePage PDF", cfg.AppName)
	assert.Equal(t, "8018", cfg.Port)
	assert.Equal(t, "pymupdf", cfg.DefaultConverter)
	assert.Equal(t, int64(52428800), cfg.MaxUploadSize)
	assert.DirExists(t, filepath.Join(dir, "storage"))
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "repage.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: \"9000\"\ndefault_converter: pdfplumber\nmax_upload_size: 1024\n"), 0o644))

	t.Setenv("CONFIG_FILE", file)
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "storage"))
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "repage.db"))
	t.Setenv("PORT", "9100")
	t.Setenv("DEFAULT_CONVERTER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, "pdfplumber", cfg.DefaultConverter)
	assert.Equal(t, int64(1024), cfg.MaxUploadSize)
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("REPAGE_TEST_INT", "abc")
	assert.Equal(t, int64(7), getEnvInt64("REPAGE_TEST_INT", 7))
	t.Setenv("REPAGE_TEST_INT", "42")
	assert.Equal(t, int64(42), getEnvInt64("REPAGE_TEST_INT", 7))
}

func TestDefaultSecretIsReported(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "storage"))
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "repage.db"))

	t.Setenv("SECRET_KEY", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSecretKey, cfg.SecretKey)
	assert.True(t, cfg.UsesDefaultSecret())

	t.Setenv("SECRET_KEY", "s3cret")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.SecretKey)
	assert.False(t, cfg.UsesDefaultSecret())
}
