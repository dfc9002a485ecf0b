package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webbroker/pkg/models"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, models.PreferenceAuto, cfg.Backend)
	assert.True(t, cfg.FallbackOnError)
	assert.Contains(t, cfg.ProfilesRoot, ".webbroker")
	assert.Contains(t, cfg.TelemetryDir, ".webbroker")
	assert.Equal(t, int64(3), cfg.Browserbase.MaxConcurrency)
	assert.Equal(t, int64(2), cfg.Steel.MaxConcurrency)
	assert.Equal(t, 600*time.Second, cfg.Browserbase.SessionTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, models.PreferenceAuto, cfg.Backend)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
backend: local
fallback_on_error: false
profiles_root: /var/lib/webbroker/profiles
steel:
  api_key: steel-key
  max_concurrency: 5
  session_timeout_ms: 30000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, models.PreferenceLocal, cfg.Backend)
	assert.False(t, cfg.FallbackOnError)
	assert.Equal(t, "/var/lib/webbroker/profiles", cfg.ProfilesRoot)
	assert.Equal(t, "steel-key", cfg.Steel.APIKey)
	assert.Equal(t, int64(5), cfg.Steel.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Steel.SessionTimeout())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
backend: local
`), 0o644))

	t.Setenv("BROKER_LISTEN_ADDR", ":7070")
	t.Setenv("WEB_BACKEND", "steel")
	t.Setenv("WEB_FALLBACK_ON_ERROR", "false")
	t.Setenv("STEEL_API_KEY", "env-steel-key")
	t.Setenv("BROWSERBASE_MAX_CONCURRENCY", "9")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, models.PreferenceSteel, cfg.Backend)
	assert.False(t, cfg.FallbackOnError)
	assert.Equal(t, "env-steel-key", cfg.Steel.APIKey)
	assert.Equal(t, int64(9), cfg.Browserbase.MaxConcurrency)
}

func TestInvalidPreferenceFallsBackToAuto(t *testing.T) {
	t.Setenv("WEB_BACKEND", "mainframe")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.PreferenceAuto, cfg.Backend)
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("WEB_FALLBACK_ON_ERROR", "maybe")
	t.Setenv("STEEL_MAX_CONCURRENCY", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.FallbackOnError)
	assert.Equal(t, int64(2), cfg.Steel.MaxConcurrency)
}

func TestUnparseableYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [broken"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
