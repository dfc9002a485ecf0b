package telemetry

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"webbroker/pkg/models"
)

// Recorder appends session lifecycle events, one JSON record per line, one
// file per session. Telemetry must never interrupt the control path: every
// failure is swallowed with a warning.
type Recorder struct {
	dir string
	mu  sync.Mutex
}

// NewRecorder creates a recorder writing under dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir}
}

// Record appends one event to the session's log file.
func (r *Recorder) Record(sessionID, eventType string, payload map[string]any) {
	event := models.TelemetryEvent{
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	line, err := json.Marshal(event)
	if err != nil {
		log.Printf("warning: telemetry marshal failed for %s: %v", sessionID, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		log.Printf("warning: telemetry dir unavailable: %v", err)
		return
	}
	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("warning: telemetry open failed for %s: %v", sessionID, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("warning: telemetry write failed for %s: %v", sessionID, err)
	}
}
