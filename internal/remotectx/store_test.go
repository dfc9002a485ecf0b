package remotectx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "steel:acct-1", NormalizeKey("steel", "acct-1"))
	assert.Equal(t, "steel:acct_1", NormalizeKey("Steel", "Acct 1"))
	assert.Equal(t, "browserbase:a.b_c", NormalizeKey("browserbase", "A.B?C"))
	long := NormalizeKey("steel", strings.Repeat("x", 500))
	assert.LessOrEqual(t, len(long), 120)
}

func TestStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assignments.json")

	store := NewStore(path)
	profileKey := NormalizeKey("browserbase", "acct-1")
	sessionKey := NormalizeKey("browserbase", "sess-1")

	store.SetProfileContext(profileKey, "ctx-123")
	store.BindSession(sessionKey, "ctx-123", "remote-9")
	store.CheckpointSessionContext(profileKey, json.RawMessage(`{"cookies":[{"name":"sid"}]}`))

	// A fresh store over the same file sees everything.
	reloaded := NewStore(path)

	ctxID, ok := reloaded.ContextForProfile(profileKey)
	require.True(t, ok)
	assert.Equal(t, "ctx-123", ctxID)

	binding, ok := reloaded.SessionBinding(sessionKey)
	require.True(t, ok)
	assert.Equal(t, "ctx-123", binding.ContextID)
	assert.Equal(t, "remote-9", binding.RemoteSessionID)
	assert.False(t, binding.UpdatedAt.IsZero())

	blob, ok := reloaded.SessionContextForProfile(profileKey)
	require.True(t, ok)
	assert.JSONEq(t, `{"cookies":[{"name":"sid"}]}`, string(blob))
}

func TestUnbindSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assignments.json")
	store := NewStore(path)

	profileKey := NormalizeKey("steel", "acct-1")
	sessionKey := NormalizeKey("steel", "sess-1")
	store.SetProfileContext(profileKey, "ctx-1")
	store.BindSession(sessionKey, "ctx-1", "remote-1")

	store.UnbindSession(sessionKey)

	_, ok := store.SessionBinding(sessionKey)
	assert.False(t, ok)

	// Profile assignment outlives the session.
	_, ok = store.ContextForProfile(profileKey)
	assert.True(t, ok)
}

func TestBindSessionWithoutContextID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assignments.json")
	store := NewStore(path)

	// Blob-based backends bind with no context id.
	store.BindSession("steel:sess-1", "", "remote-1")

	reloaded := NewStore(path)
	binding, ok := reloaded.SessionBinding("steel:sess-1")
	require.True(t, ok)
	assert.Empty(t, binding.ContextID)
	assert.Equal(t, "remote-1", binding.RemoteSessionID)

	// The empty field is omitted from the persisted JSON.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "contextId")
}

func TestCorruptFileResetsToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assignments.json")
	require.NoError(t, os.WriteFile(path, []byte("}}}garbage"), 0o644))

	store := NewStore(path)
	_, ok := store.ContextForProfile("browserbase:acct-1")
	assert.False(t, ok)

	// The store remains usable and persists over the corrupt file.
	store.SetProfileContext("browserbase:acct-1", "ctx-1")
	reloaded := NewStore(path)
	ctxID, ok := reloaded.ContextForProfile("browserbase:acct-1")
	require.True(t, ok)
	assert.Equal(t, "ctx-1", ctxID)
}

func TestMissingFileStartsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", "assignments.json"))
	_, ok := store.ContextForProfile("steel:acct-1")
	assert.False(t, ok)
}
