package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"webbroker/internal/provider"
	"webbroker/internal/telemetry"
	"webbroker/pkg/models"
)

// Options carries the manager-level defaults resolved at startup (config
// file plus environment overrides).
type Options struct {
	DefaultPreference  models.BackendPreference
	DefaultFallback    bool
	BrowserbaseEnabled bool
	SteelEnabled       bool
}

// route is one row of the routing table: which backend owns a session and
// the config it was started with.
type route struct {
	backend models.Backend
	config  models.SessionConfig
}

// Manager routes sessions across backends. Failover decisions are
// centralized here so each provider stays backend-pure and swappable.
type Manager struct {
	providers map[models.Backend]provider.Provider
	opts      Options
	telemetry *telemetry.Recorder

	mu     sync.RWMutex
	routes map[string]route
}

// NewManager builds a manager over the given providers.
func NewManager(providers []provider.Provider, opts Options, recorder *telemetry.Recorder) *Manager {
	byBackend := make(map[models.Backend]provider.Provider, len(providers))
	for _, p := range providers {
		byBackend[p.Backend()] = p
	}
	if opts.DefaultPreference == "" {
		opts.DefaultPreference = models.PreferenceAuto
	}
	return &Manager{
		providers: byBackend,
		opts:      opts,
		telemetry: recorder,
		routes:    make(map[string]route),
	}
}

// StartSession starts (or resumes) a session. A live existing route is
// touched and returned; a stale route is discarded before a fresh start.
func (m *Manager) StartSession(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	if rt, ok := m.lookupRoute(sessionID); ok {
		if p, exists := m.providers[rt.backend]; exists {
			if snap, err := p.GetSession(sessionID); err == nil {
				p.Touch(sessionID)
				return snap, nil
			}
		}
		m.dropRoute(sessionID)
	}

	pref := m.resolvePreference(cfg)
	fallback := m.resolveFallback(cfg)

	switch {
	case pref == models.PreferenceLocal:
		return m.startOn(ctx, models.BackendLocal, sessionID, cfg)
	case pref == models.PreferenceSteel,
		pref == models.PreferenceAuto && m.opts.SteelEnabled:
		return m.startRemote(ctx, models.BackendSteel, pref, fallback, sessionID, cfg)
	case pref == models.PreferenceBrowserbase,
		pref == models.PreferenceAuto && m.opts.BrowserbaseEnabled:
		return m.startRemote(ctx, models.BackendBrowserbase, pref, fallback, sessionID, cfg)
	default:
		return m.startOn(ctx, models.BackendLocal, sessionID, cfg)
	}
}

// startRemote attempts a remote backend and falls back to local only when
// fallback is enabled, the failure is recoverable, and the preference was
// auto. An explicit remote preference never falls back.
func (m *Manager) startRemote(ctx context.Context, backend models.Backend, pref models.BackendPreference, fallback bool, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	snap, err := m.startOn(ctx, backend, sessionID, cfg)
	if err == nil {
		return snap, nil
	}

	recoverable := provider.IsRecoverable(err)
	quotaLimited := provider.IsQuotaLimited(err)
	if quotaLimited {
		log.Printf("⚠️ %s quota/billing exhausted: %v", backend, err)
	} else {
		log.Printf("⚠️ %s session start failed (recoverable=%v): %v", backend, recoverable, err)
	}

	if fallback && recoverable && pref == models.PreferenceAuto {
		m.record(sessionID, "backend_switch", map[string]any{
			"from":         string(backend),
			"to":           string(models.BackendLocal),
			"reason":       err.Error(),
			"recoverable":  recoverable,
			"quotaLimited": quotaLimited,
		})
		return m.startOn(ctx, models.BackendLocal, sessionID, cfg)
	}
	return nil, err
}

func (m *Manager) startOn(ctx context.Context, backend models.Backend, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	p, ok := m.providers[backend]
	if !ok {
		return nil, fmt.Errorf("backend %q not configured", backend)
	}

	snap, err := p.StartSession(ctx, sessionID, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.routes[sessionID] = route{backend: backend, config: cfg}
	m.mu.Unlock()

	m.record(sessionID, "session_start", map[string]any{
		"backend":   string(backend),
		"profileId": snap.ProfileID,
	})
	return snap, nil
}

// GetPage is a pure lookup into the owning provider; no backend switching
// happens after start.
func (m *Manager) GetPage(sessionID string) (*rod.Page, error) {
	p, err := m.owner(sessionID)
	if err != nil {
		return nil, err
	}
	return p.GetPage(sessionID)
}

// GetSession returns the snapshot from the owning provider.
func (m *Manager) GetSession(sessionID string) (*models.SessionSnapshot, error) {
	p, err := m.owner(sessionID)
	if err != nil {
		return nil, err
	}
	return p.GetSession(sessionID)
}

// Touch refreshes the session's last-used time on the owning provider.
func (m *Manager) Touch(sessionID string) {
	if p, err := m.owner(sessionID); err == nil {
		p.Touch(sessionID)
	}
}

// ListSessions returns snapshots for every routed session.
func (m *Manager) ListSessions() []models.SessionSnapshot {
	m.mu.RLock()
	ids := make(map[string]models.Backend, len(m.routes))
	for id, rt := range m.routes {
		ids[id] = rt.backend
	}
	m.mu.RUnlock()

	out := make([]models.SessionSnapshot, 0, len(ids))
	for id, backend := range ids {
		if p, ok := m.providers[backend]; ok {
			if snap, err := p.GetSession(id); err == nil {
				out = append(out, *snap)
			}
		}
	}
	return out
}

// liveViewer is the optional provider capability backing the websocket
// live-view proxy.
type liveViewer interface {
	ConnectURL(sessionID string) (string, error)
}

// ConnectURL returns the session's CDP endpoint when the owning provider
// exposes one.
func (m *Manager) ConnectURL(sessionID string) (string, error) {
	p, err := m.owner(sessionID)
	if err != nil {
		return "", err
	}
	lv, ok := p.(liveViewer)
	if !ok {
		return "", fmt.Errorf("backend %q exposes no debug endpoint", p.Backend())
	}
	return lv.ConnectURL(sessionID)
}

// EndSession removes the route and delegates teardown to the owner.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	p, err := m.owner(sessionID)
	if err != nil {
		return err
	}
	m.dropRoute(sessionID)
	if err := p.EndSession(ctx, sessionID); err != nil {
		return err
	}
	m.record(sessionID, "session_end", map[string]any{
		"backend": string(p.Backend()),
	})
	return nil
}

// CloseAll drains every route and tears down all providers.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.routes = make(map[string]route)
	m.mu.Unlock()

	for _, p := range m.providers {
		if err := p.CloseAll(ctx); err != nil {
			log.Printf("warning: close all on %s: %v", p.Backend(), err)
		}
	}
	return nil
}

// CleanupIdleSessions reaps idle sessions on every provider and prunes their
// routes. Invoked by an external scheduler; not self-triggered.
func (m *Manager) CleanupIdleSessions(idleFor time.Duration) int {
	total := 0
	for _, p := range m.providers {
		total += p.CleanupIdleSessions(idleFor)
	}

	// Drop routes whose provider no longer reports the session.
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rt := range m.routes {
		p, ok := m.providers[rt.backend]
		if !ok {
			delete(m.routes, id)
			continue
		}
		if _, err := p.GetSession(id); err != nil {
			delete(m.routes, id)
		}
	}
	return total
}

func (m *Manager) owner(sessionID string) (provider.Provider, error) {
	rt, ok := m.lookupRoute(sessionID)
	if !ok {
		return nil, &provider.NoSessionError{SessionID: sessionID}
	}
	p, ok := m.providers[rt.backend]
	if !ok {
		return nil, &provider.NoSessionError{SessionID: sessionID}
	}
	return p, nil
}

func (m *Manager) lookupRoute(sessionID string) (route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.routes[sessionID]
	return rt, ok
}

func (m *Manager) dropRoute(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.routes, sessionID)
}

func (m *Manager) resolvePreference(cfg models.SessionConfig) models.BackendPreference {
	if cfg.BackendPreference != "" {
		return cfg.BackendPreference
	}
	return m.opts.DefaultPreference
}

func (m *Manager) resolveFallback(cfg models.SessionConfig) bool {
	if cfg.FallbackOnError != nil {
		return *cfg.FallbackOnError
	}
	return m.opts.DefaultFallback
}

func (m *Manager) record(sessionID, eventType string, payload map[string]any) {
	if m.telemetry != nil {
		m.telemetry.Record(sessionID, eventType, payload)
	}
}
