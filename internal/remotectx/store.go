package remotectx

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const maxKeyLen = 120

// SessionBinding records which remote context backed a session. ContextID is
// empty for backends that carry continuity in a blob instead of a context id.
type SessionBinding struct {
	ContextID       string    `json:"contextId,omitempty"`
	RemoteSessionID string    `json:"remoteSessionId"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// assignments is the persisted shape. It survives process restarts so a
// profile keeps resuming the same remote auth context.
type assignments struct {
	Profiles               map[string]string          `json:"profiles"`
	ProfileSessionContexts map[string]json.RawMessage `json:"profileSessionContexts"`
	Sessions               map[string]SessionBinding  `json:"sessions"`
}

func emptyAssignments() assignments {
	return assignments{
		Profiles:               make(map[string]string),
		ProfileSessionContexts: make(map[string]json.RawMessage),
		Sessions:               make(map[string]SessionBinding),
	}
}

// Store maps local profiles to remote provider contexts, durably. All reads
// tolerate a corrupt or unreadable file by resetting to empty rather than
// failing: losing an assignment only costs a fresh login, not the session.
type Store struct {
	path string
	mu   sync.Mutex
	data assignments
}

// NewStore loads (or initializes) the assignments file at path.
func NewStore(path string) *Store {
	s := &Store{path: path, data: emptyAssignments()}
	s.load()
	return s
}

// NormalizeKey builds a storage key from a backend name and an identifier:
// lowercased, restricted alphabet, length-capped.
func NormalizeKey(backend, id string) string {
	raw := strings.ToLower(backend + ":" + id)
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-', r == ':':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	key := b.String()
	if len(key) > maxKeyLen {
		key = key[:maxKeyLen]
	}
	return key
}

// ContextForProfile returns the stored context id for a profile key.
func (s *Store) ContextForProfile(profileKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.Profiles[profileKey]
	return id, ok
}

// SetProfileContext persists profile -> contextId.
func (s *Store) SetProfileContext(profileKey, contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Profiles[profileKey] = contextID
	s.save()
}

// SessionContextForProfile returns the checkpointed context payload
// (cookies/storage) for a profile key, if any.
func (s *Store) SessionContextForProfile(profileKey string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.data.ProfileSessionContexts[profileKey]
	return blob, ok
}

// CheckpointSessionContext stores a refreshed context payload read back from
// the provider at session end, so the profile's next session resumes with
// current cookies and storage.
func (s *Store) CheckpointSessionContext(profileKey string, blob json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ProfileSessionContexts[profileKey] = blob
	s.save()
}

// BindSession persists session -> {contextId, remoteSessionId}.
func (s *Store) BindSession(sessionKey, contextID, remoteSessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Sessions[sessionKey] = SessionBinding{
		ContextID:       contextID,
		RemoteSessionID: remoteSessionID,
		UpdatedAt:       time.Now(),
	}
	s.save()
}

// SessionBinding returns the stored binding for a session key.
func (s *Store) SessionBinding(sessionKey string) (SessionBinding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.Sessions[sessionKey]
	return b, ok
}

// UnbindSession drops a session's binding. Profile assignments are kept.
func (s *Store) UnbindSession(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Sessions[sessionKey]; !ok {
		return
	}
	delete(s.data.Sessions, sessionKey)
	s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: unreadable context assignments %s, starting empty: %v", s.path, err)
		}
		return
	}
	var parsed assignments
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Printf("warning: corrupt context assignments %s, starting empty: %v", s.path, err)
		return
	}
	if parsed.Profiles == nil {
		parsed.Profiles = make(map[string]string)
	}
	if parsed.ProfileSessionContexts == nil {
		parsed.ProfileSessionContexts = make(map[string]json.RawMessage)
	}
	if parsed.Sessions == nil {
		parsed.Sessions = make(map[string]SessionBinding)
	}
	s.data = parsed
}

// save writes the assignments file; callers hold s.mu.
func (s *Store) save() {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Printf("warning: failed to create assignments directory: %v", err)
		return
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		log.Printf("warning: failed to marshal context assignments: %v", err)
		return
	}
	tmp := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("warning: failed to write context assignments: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("warning: failed to replace context assignments: %v", err)
	}
}
