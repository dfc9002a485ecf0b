package provider

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"

	"webbroker/internal/profile"
	"webbroker/internal/remotectx"
	"webbroker/pkg/models"
)

const defaultBrowserbaseURL = "https://api.browserbase.com"

// Browserbase runs sessions on the Browserbase cloud. Profile continuity is
// provided by Browserbase contexts: the provider pre-seeds the create call
// with the profile's stored context id so authentication carries over.
type Browserbase struct {
	cfg      RemoteConfig
	api      *apiClient
	contexts *remotectx.Store
	sessions *registry
	slots    *semaphore.Weighted
}

// NewBrowserbase creates the Browserbase backend.
func NewBrowserbase(cfg RemoteConfig, contexts *remotectx.Store) *Browserbase {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBrowserbaseURL
	}
	return &Browserbase{
		cfg: cfg,
		api: newAPIClient(models.BackendBrowserbase, base, map[string]string{
			"X-BB-API-Key": cfg.APIKey,
		}),
		contexts: contexts,
		sessions: newRegistry(),
		slots:    semaphore.NewWeighted(cfg.maxConcurrency()),
	}
}

func (b *Browserbase) Backend() models.Backend { return models.BackendBrowserbase }

type bbCreateSessionRequest struct {
	ProjectID       string             `json:"projectId"`
	BrowserSettings *bbBrowserSettings `json:"browserSettings,omitempty"`
	Timeout         int                `json:"timeout,omitempty"`
}

type bbBrowserSettings struct {
	Context bbContextRef `json:"context"`
}

type bbContextRef struct {
	ID      string `json:"id"`
	Persist bool   `json:"persist"`
}

type bbSession struct {
	ID         string `json:"id"`
	ContextID  string `json:"contextId,omitempty"`
	ConnectURL string `json:"connectUrl"`
}

type bbDebugInfo struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
}

// StartSession creates a remote session seeded with the profile's context,
// then attaches to its CDP endpoint.
func (b *Browserbase) StartSession(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	if !b.cfg.Enabled() {
		return nil, &Error{Backend: models.BackendBrowserbase, Message: "missing BROWSERBASE_API_KEY"}
	}
	if !b.slots.TryAcquire(1) {
		return nil, &Error{Backend: models.BackendBrowserbase, Message: "concurrency limit reached"}
	}

	snap, err := b.start(ctx, sessionID, cfg)
	if err != nil {
		b.slots.Release(1)
		return nil, err
	}
	return snap, nil
}

func (b *Browserbase) start(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	profileID := profile.SanitizeProfileID(cfg.ProfileID)
	profileKey := remotectx.NormalizeKey("browserbase", profileID)

	contextID, ok := b.contexts.ContextForProfile(profileKey)
	if !ok {
		var created struct {
			ID string `json:"id"`
		}
		err := withRetry(ctx, func() error {
			return b.api.doJSON(ctx, http.MethodPost, "/v1/contexts",
				map[string]string{"projectId": b.cfg.ProjectID}, &created)
		})
		if err != nil {
			return nil, err
		}
		contextID = created.ID
	}

	var remote bbSession
	err := withRetry(ctx, func() error {
		return b.api.doJSON(ctx, http.MethodPost, "/v1/sessions", bbCreateSessionRequest{
			ProjectID: b.cfg.ProjectID,
			BrowserSettings: &bbBrowserSettings{
				Context: bbContextRef{ID: contextID, Persist: true},
			},
			Timeout: int(b.cfg.sessionTimeout().Seconds()),
		}, &remote)
	})
	if err != nil {
		return nil, err
	}
	if remote.ContextID != "" {
		contextID = remote.ContextID
	}

	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.sessionTimeout())
	defer cancel()

	sessCtx, sessCancel := sessionContext(ctx)
	var browser *rod.Browser
	err = withRetry(connectCtx, func() error {
		browser = rod.New().ControlURL(remote.ConnectURL).Context(sessCtx)
		if err := browser.Connect(); err != nil {
			return ClassifyTransport(models.BackendBrowserbase, err)
		}
		return nil
	})
	if err != nil {
		sessCancel()
		b.release(remote.ID)
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: cfg.StartURL})
	if err != nil {
		_ = browser.Close()
		sessCancel()
		b.release(remote.ID)
		return nil, fmt.Errorf("open remote page: %w", err)
	}
	applyPageConfig(page, cfg)

	liveViewURL := ""
	if b.cfg.LiveView {
		var debug bbDebugInfo
		if err := b.api.doJSON(ctx, http.MethodGet, "/v1/sessions/"+remote.ID+"/debug", nil, &debug); err != nil {
			log.Printf("warning: browserbase live view unavailable for %s: %v", sessionID, err)
		} else {
			liveViewURL = debug.DebuggerFullscreenURL
		}
	}

	b.contexts.SetProfileContext(profileKey, contextID)
	sessionKey := remotectx.NormalizeKey("browserbase", sessionID)
	b.contexts.BindSession(sessionKey, contextID, remote.ID)

	now := time.Now()
	snap := models.SessionSnapshot{
		SessionID:       sessionID,
		ProfileID:       profileID,
		Backend:         models.BackendBrowserbase,
		URL:             cfg.StartURL,
		CreatedAt:       now,
		LastUsedAt:      now,
		LiveViewURL:     liveViewURL,
		RemoteSessionID: remote.ID,
		RemoteContextID: contextID,
	}
	if info, err := page.Info(); err == nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}

	b.sessions.put(sessionID, &sessionEntry{
		snapshot:   snap,
		page:       page,
		browser:    browser,
		connectURL: remote.ConnectURL,
		teardown: func(ctx context.Context) {
			if err := browser.Close(); err != nil {
				log.Printf("warning: close browserbase browser for %s: %v", sessionID, err)
			}
			sessCancel()
			b.release(remote.ID)
			b.contexts.UnbindSession(sessionKey)
			b.slots.Release(1)
		},
	})

	return &snap, nil
}

// release asks Browserbase to stop billing the remote session. Best effort:
// the remote side also times out on its own.
func (b *Browserbase) release(remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	err := b.api.doJSON(ctx, http.MethodPost, "/v1/sessions/"+remoteID,
		map[string]string{"projectId": b.cfg.ProjectID, "status": "REQUEST_RELEASE"}, nil)
	if err != nil {
		log.Printf("warning: browserbase release %s: %v", remoteID, err)
	}
}

// GetPage returns the live page handle for a session.
func (b *Browserbase) GetPage(sessionID string) (*rod.Page, error) {
	entry, ok := b.sessions.get(sessionID)
	if !ok {
		return nil, &NoSessionError{SessionID: sessionID}
	}
	b.Touch(sessionID)
	return entry.page, nil
}

// GetSession returns the snapshot for a session.
func (b *Browserbase) GetSession(sessionID string) (*models.SessionSnapshot, error) {
	snap, ok := b.sessions.snapshot(sessionID)
	if !ok {
		return nil, &NoSessionError{SessionID: sessionID}
	}
	return snap, nil
}

// Touch refreshes the session's last-used time.
func (b *Browserbase) Touch(sessionID string) {
	b.sessions.touch(sessionID)
}

// EndSession releases the remote session and drops the local handle.
func (b *Browserbase) EndSession(ctx context.Context, sessionID string) error {
	entry, ok := b.sessions.remove(sessionID)
	if !ok {
		return &NoSessionError{SessionID: sessionID}
	}
	entry.teardown(ctx)
	return nil
}

// CloseAll drains every session.
func (b *Browserbase) CloseAll(ctx context.Context) error {
	for _, id := range b.sessions.ids() {
		if err := b.EndSession(ctx, id); err != nil {
			log.Printf("warning: close browserbase session %s: %v", id, err)
		}
	}
	return nil
}

// ConnectURL returns the CDP endpoint for the live-view proxy.
func (b *Browserbase) ConnectURL(sessionID string) (string, error) {
	url, ok := b.sessions.connect(sessionID)
	if !ok {
		return "", &NoSessionError{SessionID: sessionID}
	}
	return url, nil
}

// CleanupIdleSessions ends sessions idle for longer than idleFor.
func (b *Browserbase) CleanupIdleSessions(idleFor time.Duration) int {
	count := 0
	for _, id := range b.sessions.idleIDs(idleFor) {
		if err := b.EndSession(context.Background(), id); err == nil {
			count++
		}
	}
	return count
}
