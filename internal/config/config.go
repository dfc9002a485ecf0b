package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"webbroker/pkg/models"
)

// RemoteBackend configures one cloud browser provider.
type RemoteBackend struct {
	APIKey           string `yaml:"api_key"`
	ProjectID        string `yaml:"project_id"`
	BaseURL          string `yaml:"base_url"`
	MaxConcurrency   int64  `yaml:"max_concurrency"`
	SessionTimeoutMs int64  `yaml:"session_timeout_ms"`
	LiveView         bool   `yaml:"live_view"`
}

// SessionTimeout returns the configured timeout, defaulting to 600s.
func (r RemoteBackend) SessionTimeout() time.Duration {
	if r.SessionTimeoutMs <= 0 {
		return 600 * time.Second
	}
	return time.Duration(r.SessionTimeoutMs) * time.Millisecond
}

// Config captures all tunable settings for the broker. Every field can come
// from the optional yaml file; environment variables always win.
type Config struct {
	ListenAddr      string                   `yaml:"listen_addr"`
	Backend         models.BackendPreference `yaml:"backend"`
	FallbackOnError bool                     `yaml:"fallback_on_error"`
	ProfilesRoot    string                   `yaml:"profiles_root"`
	TelemetryDir    string                   `yaml:"telemetry_dir"`
	ApprovalSecret  string                   `yaml:"approval_secret"`
	Browserbase     RemoteBackend            `yaml:"browserbase"`
	Steel           RemoteBackend            `yaml:"steel"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := filepath.Join(home, ".webbroker")
	return Config{
		ListenAddr:      ":8080",
		Backend:         models.PreferenceAuto,
		FallbackOnError: true,
		ProfilesRoot:    filepath.Join(root, "profiles"),
		TelemetryDir:    filepath.Join(root, "telemetry"),
		Browserbase: RemoteBackend{
			MaxConcurrency: 3,
		},
		Steel: RemoteBackend{
			MaxConcurrency: 2,
		},
	}
}

// Load builds the effective configuration: defaults, then the yaml file at
// path (missing file is fine), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No config file; defaults plus env.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if !validPreference(cfg.Backend) {
		log.Printf("warning: invalid backend preference %q, using auto", cfg.Backend)
		cfg.Backend = models.PreferenceAuto
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.ListenAddr, "BROKER_LISTEN_ADDR")
	if v := os.Getenv("WEB_BACKEND"); v != "" {
		c.Backend = models.BackendPreference(v)
	}
	envBool(&c.FallbackOnError, "WEB_FALLBACK_ON_ERROR")
	envString(&c.ProfilesRoot, "WEB_PROFILES_ROOT")
	envString(&c.TelemetryDir, "WEB_TELEMETRY_DIR")
	envString(&c.ApprovalSecret, "WEB_APPROVAL_SECRET")

	envString(&c.Browserbase.APIKey, "BROWSERBASE_API_KEY")
	envString(&c.Browserbase.ProjectID, "BROWSERBASE_PROJECT_ID")
	envString(&c.Browserbase.BaseURL, "BROWSERBASE_API_URL")
	envInt64(&c.Browserbase.MaxConcurrency, "BROWSERBASE_MAX_CONCURRENCY")
	envInt64(&c.Browserbase.SessionTimeoutMs, "BROWSERBASE_SESSION_TIMEOUT_MS")
	envBool(&c.Browserbase.LiveView, "BROWSERBASE_LIVE_VIEW")

	envString(&c.Steel.APIKey, "STEEL_API_KEY")
	envString(&c.Steel.BaseURL, "STEEL_API_URL")
	envInt64(&c.Steel.MaxConcurrency, "STEEL_MAX_CONCURRENCY")
	envInt64(&c.Steel.SessionTimeoutMs, "STEEL_SESSION_TIMEOUT_MS")
	envBool(&c.Steel.LiveView, "STEEL_LIVE_VIEW")
}

func validPreference(p models.BackendPreference) bool {
	switch p {
	case models.PreferenceAuto, models.PreferenceLocal,
		models.PreferenceBrowserbase, models.PreferenceSteel:
		return true
	}
	return false
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("warning: invalid boolean %s=%q ignored", key, v)
			return
		}
		*dst = parsed
	}
}

func envInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Printf("warning: invalid integer %s=%q ignored", key, v)
			return
		}
		*dst = parsed
	}
}
