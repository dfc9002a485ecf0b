package provider

import (
	"context"
	"encoding/json"
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

const defaultSteelURL = "https://api.steel.dev"

// Steel runs sessions on the Steel cloud. Steel supports full context
// injection: the create call is seeded with the profile's checkpointed
// cookies/storage payload, and on session end the updated context is read
// back and checkpointed so the next session resumes with fresh state.
type Steel struct {
	cfg      RemoteConfig
	api      *apiClient
	contexts *remotectx.Store
	sessions *registry
	slots    *semaphore.Weighted
}

// NewSteel creates the Steel backend.
func NewSteel(cfg RemoteConfig, contexts *remotectx.Store) *Steel {
	base := cfg.BaseURL
	if base == "" {
		base = defaultSteelURL
	}
	return &Steel{
		cfg: cfg,
		api: newAPIClient(models.BackendSteel, base, map[string]string{
			"Steel-Api-Key": cfg.APIKey,
		}),
		contexts: contexts,
		sessions: newRegistry(),
		slots:    semaphore.NewWeighted(cfg.maxConcurrency()),
	}
}

func (s *Steel) Backend() models.Backend { return models.BackendSteel }

type steelCreateSessionRequest struct {
	SessionID      string           `json:"sessionId,omitempty"`
	SessionContext json.RawMessage  `json:"sessionContext,omitempty"`
	Timeout        int64            `json:"timeout,omitempty"`
	Dimensions     *steelDimensions `json:"dimensions,omitempty"`
}

type steelDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type steelSession struct {
	ID               string `json:"id"`
	WebsocketURL     string `json:"websocketUrl"`
	SessionViewerURL string `json:"sessionViewerUrl,omitempty"`
}

// StartSession creates a remote session seeded with the profile's stored
// session context, then attaches to its CDP endpoint.
func (s *Steel) StartSession(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	if !s.cfg.Enabled() {
		return nil, &Error{Backend: models.BackendSteel, Message: "missing STEEL_API_KEY"}
	}
	if !s.slots.TryAcquire(1) {
		return nil, &Error{Backend: models.BackendSteel, Message: "concurrency limit reached"}
	}

	snap, err := s.start(ctx, sessionID, cfg)
	if err != nil {
		s.slots.Release(1)
		return nil, err
	}
	return snap, nil
}

func (s *Steel) start(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error) {
	profileID := profile.SanitizeProfileID(cfg.ProfileID)
	profileKey := remotectx.NormalizeKey("steel", profileID)

	req := steelCreateSessionRequest{
		SessionID: sessionID,
		Timeout:   s.cfg.sessionTimeout().Milliseconds(),
	}
	if blob, ok := s.contexts.SessionContextForProfile(profileKey); ok {
		req.SessionContext = blob
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		req.Dimensions = &steelDimensions{
			Width:  cfg.Viewport.Width,
			Height: cfg.Viewport.Height,
		}
	}

	var remote steelSession
	err := withRetry(ctx, func() error {
		return s.api.doJSON(ctx, http.MethodPost, "/v1/sessions", req, &remote)
	})
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.sessionTimeout())
	defer cancel()

	sessCtx, sessCancel := sessionContext(ctx)
	var browser *rod.Browser
	err = withRetry(connectCtx, func() error {
		browser = rod.New().ControlURL(remote.WebsocketURL).Context(sessCtx)
		if err := browser.Connect(); err != nil {
			return ClassifyTransport(models.BackendSteel, err)
		}
		return nil
	})
	if err != nil {
		sessCancel()
		s.release(remote.ID)
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: cfg.StartURL})
	if err != nil {
		_ = browser.Close()
		sessCancel()
		s.release(remote.ID)
		return nil, fmt.Errorf("open remote page: %w", err)
	}
	applyPageConfig(page, cfg)

	liveViewURL := ""
	if s.cfg.LiveView {
		liveViewURL = remote.SessionViewerURL
	}

	// Steel has no remote context id; continuity lives in the checkpointed
	// session-context blob, so the binding only tracks the remote session.
	sessionKey := remotectx.NormalizeKey("steel", sessionID)
	s.contexts.BindSession(sessionKey, "", remote.ID)

	now := time.Now()
	snap := models.SessionSnapshot{
		SessionID:       sessionID,
		ProfileID:       profileID,
		Backend:         models.BackendSteel,
		URL:             cfg.StartURL,
		CreatedAt:       now,
		LastUsedAt:      now,
		LiveViewURL:     liveViewURL,
		RemoteSessionID: remote.ID,
	}
	if info, err := page.Info(); err == nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}

	s.sessions.put(sessionID, &sessionEntry{
		snapshot:   snap,
		page:       page,
		browser:    browser,
		connectURL: remote.WebsocketURL,
		teardown: func(ctx context.Context) {
			if err := browser.Close(); err != nil {
				log.Printf("warning: close steel browser for %s: %v", sessionID, err)
			}
			sessCancel()
			s.checkpointContext(profileKey, remote.ID)
			s.release(remote.ID)
			s.contexts.UnbindSession(sessionKey)
			s.slots.Release(1)
		},
	})

	return &snap, nil
}

// checkpointContext reads the updated remote context (cookies/storage) back
// from Steel and persists it for the profile's next session. Best effort.
func (s *Steel) checkpointContext(profileKey, remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()

	var blob json.RawMessage
	if err := s.api.doJSON(ctx, http.MethodGet, "/v1/sessions/"+remoteID+"/context", nil, &blob); err != nil {
		log.Printf("warning: steel context read-back %s: %v", remoteID, err)
		return
	}
	s.contexts.CheckpointSessionContext(profileKey, blob)
}

// release tells Steel to stop the remote session. Best effort.
func (s *Steel) release(remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	if err := s.api.doJSON(ctx, http.MethodPost, "/v1/sessions/"+remoteID+"/release", nil, nil); err != nil {
		log.Printf("warning: steel release %s: %v", remoteID, err)
	}
}

// GetPage returns the live page handle for a session.
func (s *Steel) GetPage(sessionID string) (*rod.Page, error) {
	entry, ok := s.sessions.get(sessionID)
	if !ok {
		return nil, &NoSessionError{SessionID: sessionID}
	}
	s.Touch(sessionID)
	return entry.page, nil
}

// GetSession returns the snapshot for a session.
func (s *Steel) GetSession(sessionID string) (*models.SessionSnapshot, error) {
	snap, ok := s.sessions.snapshot(sessionID)
	if !ok {
		return nil, &NoSessionError{SessionID: sessionID}
	}
	return snap, nil
}

// Touch refreshes the session's last-used time.
func (s *Steel) Touch(sessionID string) {
	s.sessions.touch(sessionID)
}

// EndSession checkpoints the remote context, releases the remote session,
// and drops the local handle.
func (s *Steel) EndSession(ctx context.Context, sessionID string) error {
	entry, ok := s.sessions.remove(sessionID)
	if !ok {
		return &NoSessionError{SessionID: sessionID}
	}
	entry.teardown(ctx)
	return nil
}

// CloseAll drains every session.
func (s *Steel) CloseAll(ctx context.Context) error {
	for _, id := range s.sessions.ids() {
		if err := s.EndSession(ctx, id); err != nil {
			log.Printf("warning: close steel session %s: %v", id, err)
		}
	}
	return nil
}

// ConnectURL returns the CDP endpoint for the live-view proxy.
func (s *Steel) ConnectURL(sessionID string) (string, error) {
	url, ok := s.sessions.connect(sessionID)
	if !ok {
		return "", &NoSessionError{SessionID: sessionID}
	}
	return url, nil
}

// CleanupIdleSessions ends sessions idle for longer than idleFor.
func (s *Steel) CleanupIdleSessions(idleFor time.Duration) int {
	count := 0
	for _, id := range s.sessions.idleIDs(idleFor) {
		if err := s.EndSession(context.Background(), id); err == nil {
			count++
		}
	}
	return count
}
