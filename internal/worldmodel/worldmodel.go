package worldmodel

import (
	"sync"
	"time"

	"webbroker/pkg/models"
)

// Ring buffer capacities. Bounded so long sessions never grow without limit.
const (
	maxObservations = 30
	maxActions      = 50
	maxNotes        = 40
)

// Observation is one page snapshot the agent has seen.
type Observation struct {
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// ActionOutcome pairs an executed action with its result.
type ActionOutcome struct {
	Action     models.WebAction `json:"action"`
	Outcome    string           `json:"outcome"`
	Err        string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finishedAt"`
}

type sessionState struct {
	goal         string
	observations []Observation
	actions      []ActionOutcome
	notes        []string
}

// Model keeps bounded per-session memory grounding orchestrator decisions.
type Model struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an empty world model.
func New() *Model {
	return &Model{sessions: make(map[string]*sessionState)}
}

func (m *Model) state(sessionID string) *sessionState {
	st, ok := m.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		m.sessions[sessionID] = st
	}
	return st
}

// SetGoal records the active goal for a session.
func (m *Model) SetGoal(sessionID, goal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(sessionID).goal = goal
}

// Goal returns the active goal for a session.
func (m *Model) Goal(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(sessionID).goal
}

// AddObservation appends a page observation, keeping the newest 30.
func (m *Model) AddObservation(sessionID string, obs Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	st.observations = appendBounded(st.observations, obs, maxObservations)
}

// LatestObservation returns the most recent observation, if any.
func (m *Model) LatestObservation(sessionID string) (Observation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	if len(st.observations) == 0 {
		return Observation{}, false
	}
	return st.observations[len(st.observations)-1], true
}

// Observations returns a copy of the retained observations, oldest first.
func (m *Model) Observations(sessionID string) []Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	out := make([]Observation, len(st.observations))
	copy(out, st.observations)
	return out
}

// AddAction appends an action with its outcome, keeping the newest 50.
func (m *Model) AddAction(sessionID string, outcome ActionOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	st.actions = appendBounded(st.actions, outcome, maxActions)
}

// Actions returns a copy of the retained action history, oldest first.
func (m *Model) Actions(sessionID string) []ActionOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	out := make([]ActionOutcome, len(st.actions))
	copy(out, st.actions)
	return out
}

// AddNote appends a free-text note, keeping the newest 40.
func (m *Model) AddNote(sessionID, note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	st.notes = appendBounded(st.notes, note, maxNotes)
}

// Notes returns a copy of the retained notes, oldest first.
func (m *Model) Notes(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(sessionID)
	out := make([]string, len(st.notes))
	copy(out, st.notes)
	return out
}

// Forget drops all state for a session.
func (m *Model) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

func appendBounded[T any](buf []T, v T, max int) []T {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
