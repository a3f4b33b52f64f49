package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CLASSIFIER_TIMEOUT", "")
	t.Setenv("MAX_IMAGE_BYTES", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.Development())
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 15*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, int64(5<<20), cfg.MaxImageBytes)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("CLASSIFIER_TIMEOUT", "3s")
	t.Setenv("MAX_IMAGE_BYTES", "1024")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Development())
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, int64(1024), cfg.MaxImageBytes)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CLASSIFIER_TIMEOUT", "soon")
	t.Setenv("MAX_IMAGE_BYTES", "lots")
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLASSIFIER_TIMEOUT")
	assert.Contains(t, err.Error(), "MAX_IMAGE_BYTES")
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}

func TestLoadRequiresSecretOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CLASSIFIER_TIMEOUT", "")
	t.Setenv("MAX_IMAGE_BYTES", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadDefaultEnvRejectsDefaultSecret(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CLASSIFIER_TIMEOUT", "")
	t.Setenv("MAX_IMAGE_BYTES", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadDevelopmentIsOptIn(t *testing.T) {
	t.Setenv("APP_ENV", "Development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CLASSIFIER_TIMEOUT", "")
	t.Setenv("MAX_IMAGE_BYTES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Development())
}
