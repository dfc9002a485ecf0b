package provider

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"webbroker/pkg/models"
)

// Provider is the contract implemented identically by all three backends.
// The page handle stays opaque: core logic never needs more than
// start/get/end/touch, keeping the automation dependency swappable.
type Provider interface {
	Backend() models.Backend
	StartSession(ctx context.Context, sessionID string, cfg models.SessionConfig) (*models.SessionSnapshot, error)
	GetPage(sessionID string) (*rod.Page, error)
	GetSession(sessionID string) (*models.SessionSnapshot, error)
	EndSession(ctx context.Context, sessionID string) error
	Touch(sessionID string)
	CloseAll(ctx context.Context) error
	CleanupIdleSessions(idleFor time.Duration) int
}

// sessionContext derives the context a session's browser runs under. The
// session must outlive the request that started it, so the start context
// contributes values only, never cancellation; teardown cancels the
// returned context.
func sessionContext(start context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(start))
}

// sessionEntry is one live session inside a provider's registry.
type sessionEntry struct {
	snapshot models.SessionSnapshot
	page     *rod.Page
	browser  *rod.Browser
	// connectURL is the CDP endpoint backing this session, used by the
	// live-view websocket proxy.
	connectURL string
	// onTouch renews backend-specific liveness state (profile lease).
	onTouch func()
	// teardown releases backend-specific resources (launcher, lease,
	// remote release call). Invoked exactly once per session.
	teardown func(ctx context.Context)
}

// registry is an instance-owned session table. Constructed per provider so
// multiple manager instances never share state.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*sessionEntry)}
}

func (r *registry) put(id string, e *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = e
}

func (r *registry) get(id string) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *registry) remove(id string) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	return e, ok
}

func (r *registry) touch(id string) {
	r.mu.Lock()
	var onTouch func()
	if e, ok := r.entries[id]; ok {
		e.snapshot.LastUsedAt = time.Now()
		onTouch = e.onTouch
	}
	r.mu.Unlock()

	// Run outside the lock; lease renewal does file IO.
	if onTouch != nil {
		onTouch()
	}
}

func (r *registry) snapshot(id string) (*models.SessionSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	snap := e.snapshot
	return &snap, true
}

func (r *registry) connect(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.connectURL, true
}

// idleIDs returns ids whose last use is older than idleFor.
func (r *registry) idleIDs(idleFor time.Duration) []string {
	cutoff := time.Now().Add(-idleFor)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.entries {
		if e.snapshot.LastUsedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
