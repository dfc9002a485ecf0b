package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webbroker/pkg/models"
)

func TestRecordAppendsOneLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)

	r.Record("sess-1", "session_start", map[string]any{"backend": "local"})
	r.Record("sess-1", "backend_switch", map[string]any{"from": "steel", "to": "local"})
	r.Record("sess-1", "session_end", nil)

	f, err := os.Open(filepath.Join(dir, "sess-1.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var events []models.TelemetryEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev models.TelemetryEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 3)
	assert.Equal(t, "session_start", events[0].Type)
	assert.Equal(t, "local", events[0].Payload["backend"])
	assert.Equal(t, "backend_switch", events[1].Type)
	assert.Equal(t, "session_end", events[2].Type)
	for _, ev := range events {
		assert.Equal(t, "sess-1", ev.SessionID)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestRecordSeparatesSessions(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)

	r.Record("sess-1", "session_start", nil)
	r.Record("sess-2", "session_start", nil)

	assert.FileExists(t, filepath.Join(dir, "sess-1.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "sess-2.jsonl"))
}

func TestRecordCreatesDirOnDemand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "telemetry")
	r := NewRecorder(dir)

	r.Record("sess-1", "session_start", nil)

	assert.FileExists(t, filepath.Join(dir, "sess-1.jsonl"))
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	// Point the recorder at a path that cannot be a directory.
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	r := NewRecorder(filepath.Join(file, "telemetry"))
	assert.NotPanics(t, func() {
		r.Record("sess-1", "session_start", nil)
	})
}
