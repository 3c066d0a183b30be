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
	t.Setenv("SCREENVAULT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.ListenAddress)
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, int64(20<<20), cfg.API.MaxUploadSize)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "localhost:6379", cfg.Cache.Address)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.SignedURLTTL)
	assert.Equal(t, 20*time.Second, cfg.Queue.WaitTime)
	assert.Equal(t, 5*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, "openai", cfg.Provider.Active)
	assert.Equal(t, "text-embedding-3-small", cfg.Provider.EmbeddingModel)
	assert.Equal(t, 1536, cfg.Provider.Dimensions)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ReconcileInterval)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  listen_address: ":9090"
provider:
  active: "bedrock"
  dimensions: 1024
worker:
  max_attempts: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("SCREENVAULT_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.API.ListenAddress)
	assert.Equal(t, "bedrock", cfg.Provider.Active)
	assert.Equal(t, 1024, cfg.Provider.Dimensions)
	assert.Equal(t, 7, cfg.Worker.MaxAttempts)

	// Untouched keys keep their defaults.
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, 10, cfg.Cache.PoolSize)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SCREENVAULT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SCREENVAULT_DATABASE_DSN", "postgres://env@db/screenvault")
	t.Setenv("SCREENVAULT_PROVIDER_ACTIVE", "gemini")
	t.Setenv("SCREENVAULT_PROVIDER_GEMINI_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://env@db/screenvault", cfg.Database.DSN)
	assert.Equal(t, "gemini", cfg.Provider.Active)
	assert.Equal(t, "env-key", cfg.Provider.GeminiAPIKey)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: [not: valid"), 0o600))
	t.Setenv("SCREENVAULT_CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
