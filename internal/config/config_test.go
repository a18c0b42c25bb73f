package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STOREFRONT_JWT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.RatingDebounce)
	assert.Equal(t, 12*time.Hour, cfg.CancelWindow)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "STOREFRONT_JWT_SECRET=file-secret\nSTOREFRONT_BACKEND=mongo\nSTOREFRONT_KAFKA_BROKERS=k1:9092,k2:9092\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// godotenv does not override variables that are already set
	t.Setenv("STOREFRONT_BACKEND", "")
	os.Unsetenv("STOREFRONT_BACKEND")
	t.Setenv("STOREFRONT_JWT_SECRET", "env-secret")

	cfg, err := Load(envFile)
	require.NoError(t, err)
	t.Cleanup(func() {
		os.Unsetenv("STOREFRONT_KAFKA_BROKERS")
	})

	assert.Equal(t, "env-secret", cfg.JWTSecret)
	assert.Equal(t, "mongo", cfg.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_SkipsMissingFileAndLoadsTheNext(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "local.env")
	require.NoError(t, os.WriteFile(envFile, []byte("STOREFRONT_RETRY_ATTEMPTS=9\n"), 0o600))
	t.Setenv("STOREFRONT_JWT_SECRET", "secret")
	t.Setenv("STOREFRONT_RETRY_ATTEMPTS", "")
	os.Unsetenv("STOREFRONT_RETRY_ATTEMPTS")

	cfg, err := Load(filepath.Join(dir, "missing.env"), envFile)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.RetryAttempts)
}

func TestLoad_UnreadableEnvFile(t *testing.T) {
	t.Setenv("STOREFRONT_JWT_SECRET", "secret")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STOREFRONT_JWT_SECRET", "secret")
	t.Setenv("STOREFRONT_BACKEND", "cassandra")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("STOREFRONT_JWT_SECRET", "")
	os.Unsetenv("STOREFRONT_JWT_SECRET")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
