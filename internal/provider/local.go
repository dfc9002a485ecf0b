package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"webbroker/internal/profile"
	"webbroker/pkg/models"
)

// Local runs sessions against a persistent Chrome process on this host. The
// profile store's lease keeps two processes from opening the same profile
// directory concurrently.
type Local struct {
	profiles *profile.Store
	sessions *registry
}

// NewLocal creates the local backend over the given profile store.
func NewLocal(profiles *profile.Store) *Local {
	return &Local{
		profiles: profiles,
		sessions: newRegistry(),
	}
}

func (l *Local) Backend() models.Backend { return models.BackendLocal }

// StartSession acquires the profile lease, launches Chrome with the profile
// directory, and opens the initial page.
func (l *Local) StartSession(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	lease, err := l.profiles.Acquire(cfg.ProfileID)
	if err != nil {
		return nil, err
	}

	launch := launcher.New().
		Headless(cfg.Headless).
		UserDataDir(lease.ProfilePath)
	if cfg.Locale != "" {
		launch = launch.Set("lang", cfg.Locale)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		l.releaseLease(lease)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	sessCtx, sessCancel := sessionContext(ctx)
	browser := rod.New().ControlURL(controlURL).Context(sessCtx)
	if err := browser.Connect(); err != nil {
		sessCancel()
		launch.Kill()
		l.releaseLease(lease)
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: cfg.StartURL})
	if err != nil {
		_ = browser.Close()
		sessCancel()
		launch.Kill()
		l.releaseLease(lease)
		return nil, fmt.Errorf("open page: %w", err)
	}
	applyPageConfig(page, cfg)

	now := time.Now()
	snap := models.SessionSnapshot{
		SessionID:  sessionID,
		ProfileID:  lease.ProfileID,
		Backend:    models.BackendLocal,
		URL:        cfg.StartURL,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if info, err := page.Info(); err == nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}

	l.sessions.put(sessionID, &sessionEntry{
		snapshot:   snap,
		page:       page,
		browser:    browser,
		connectURL: controlURL,
		onTouch: func() {
			if err := l.profiles.Renew(lease); err != nil {
				log.Printf("warning: renew profile lease %s: %v", lease.ProfileID, err)
			}
		},
		teardown: func(ctx context.Context) {
			if err := browser.Close(); err != nil {
				log.Printf("warning: close local browser for %s: %v", sessionID, err)
			}
			sessCancel()
			launch.Kill()
			l.releaseLease(lease)
		},
	})

	return &snap, nil
}

// GetPage returns the live page handle for a session.
func (l *Local) GetPage(sessionID string) (*rod.Page, error) {
	entry, ok := l.sessions.get(sessionID)
	if !ok {
		return nil, &NoSessionError{SessionID: sessionID}
	}
	l.Touch(sessionID)
	return entry.page, nil
}

// GetSession returns the snapshot for a session.
func (l *Local) GetSession(sessionID string) (*models.SessionSnapshot, error) {
	snap, ok := l.sessions.snapshot(sessionID)
	if !ok {
		return nil, &NoSessionError{SessionID: sessionID}
	}
	return snap, nil
}

// Touch refreshes the session's last-used time and renews the profile lease.
func (l *Local) Touch(sessionID string) {
	l.sessions.touch(sessionID)
}

// EndSession tears down the browser and releases the profile lease.
func (l *Local) EndSession(ctx context.Context, sessionID string) error {
	entry, ok := l.sessions.remove(sessionID)
	if !ok {
		return &NoSessionError{SessionID: sessionID}
	}
	entry.teardown(ctx)
	return nil
}

// CloseAll drains every session.
func (l *Local) CloseAll(ctx context.Context) error {
	for _, id := range l.sessions.ids() {
		if err := l.EndSession(ctx, id); err != nil {
			log.Printf("warning: close local session %s: %v", id, err)
		}
	}
	return nil
}

// ConnectURL returns the CDP endpoint for the live-view proxy.
func (l *Local) ConnectURL(sessionID string) (string, error) {
	url, ok := l.sessions.connect(sessionID)
	if !ok {
		return "", &NoSessionError{SessionID: sessionID}
	}
	return url, nil
}

// CleanupIdleSessions ends sessions idle for longer than idleFor and returns
// how many were reaped.
func (l *Local) CleanupIdleSessions(idleFor time.Duration) int {
	count := 0
	for _, id := range l.sessions.idleIDs(idleFor) {
		if err := l.EndSession(context.Background(), id); err == nil {
			count++
		}
	}
	return count
}

func (l *Local) releaseLease(lease *profile.Lease) {
	if err := l.profiles.Release(lease); err != nil {
		log.Printf("warning: release profile %s: %v", lease.ProfileID, err)
	}
}

// applyPageConfig sets viewport and timezone emulation; failures are not
// fatal for session startup.
func applyPageConfig(page *rod.Page, cfg models.SessionConfig) {
	width, height := cfg.Viewport.Width, cfg.Viewport.Height
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 800
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}
	if cfg.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{
			TimezoneID: cfg.Timezone,
		}).Call(page); err != nil {
			log.Printf("warning: failed to set timezone: %v", err)
		}
	}
}
