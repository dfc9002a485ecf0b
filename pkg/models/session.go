package models

import "time"

// Backend identifies one of the browser execution environments.
type Backend string

const (
	BackendLocal       Backend = "local"
	BackendBrowserbase Backend = "browserbase"
	BackendSteel       Backend = "steel"
)

// BackendPreference is a requested backend, or "auto" to let the manager pick.
type BackendPreference string

const (
	PreferenceAuto        BackendPreference = "auto"
	PreferenceLocal       BackendPreference = "local"
	PreferenceBrowserbase BackendPreference = "browserbase"
	PreferenceSteel       BackendPreference = "steel"
)

// Viewport is the requested page dimensions for a session.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// SessionConfig is the caller-supplied configuration for starting a session.
type SessionConfig struct {
	ProfileID         string            `json:"profileId,omitempty" yaml:"profile_id"`
	Headless          bool              `json:"headless" yaml:"headless"`
	Viewport          Viewport          `json:"viewport" yaml:"viewport"`
	Locale            string            `json:"locale,omitempty" yaml:"locale"`
	Timezone          string            `json:"timezone,omitempty" yaml:"timezone"`
	StartURL          string            `json:"startUrl,omitempty" yaml:"start_url"`
	BackendPreference BackendPreference `json:"backendPreference,omitempty" yaml:"backend_preference"`
	FallbackOnError   *bool             `json:"fallbackOnError,omitempty" yaml:"fallback_on_error"`
}

// SessionSnapshot is the live state of one browser session. Exactly one
// snapshot exists per session id; the manager's routing table owns it and
// the owning provider mirrors it.
type SessionSnapshot struct {
	SessionID       string    `json:"sessionId"`
	ProfileID       string    `json:"profileId"`
	Backend         Backend   `json:"backend"`
	URL             string    `json:"url,omitempty"`
	Title           string    `json:"title,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUsedAt      time.Time `json:"lastUsedAt"`
	LiveViewURL     string    `json:"liveViewUrl,omitempty"`
	RemoteSessionID string    `json:"remoteSessionId,omitempty"`
	RemoteContextID string    `json:"remoteContextId,omitempty"`
}

// TelemetryEvent is one append-only log record for a session.
type TelemetryEvent struct {
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
