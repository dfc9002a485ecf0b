package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"webbroker/internal/orchestrator"
	"webbroker/internal/policy"
	"webbroker/internal/provider"
	"webbroker/internal/session"
	"webbroker/internal/worldmodel"
	"webbroker/pkg/models"
)

// approvalTokenHeader carries the signed token authorizing a high-risk action.
const approvalTokenHeader = "X-Approval-Token"

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
	engine     *policy.Engine
	agent      *orchestrator.Orchestrator
	world      *worldmodel.Model
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager, engine *policy.Engine, agent *orchestrator.Orchestrator, world *worldmodel.Model) *Handler {
	return &Handler{
		sessionMgr: sessionMgr,
		engine:     engine,
		agent:      agent,
		world:      world,
	}
}

type createSessionRequest struct {
	SessionID string               `json:"sessionId,omitempty"`
	Config    models.SessionConfig `json:"config"`
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	snap, err := h.sessionMgr.StartSession(r.Context(), req.SessionID, req.Config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := h.sessionMgr.GetSession(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionMgr.ListSessions())
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessionMgr.EndSession(r.Context(), id); err != nil {
		var noSession *provider.NoSessionError
		if errors.As(err, &noSession) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.world.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// NavigateSession handles POST /v1/sessions/{id}/navigate. The navigate
// action goes through the policy gate like any other action.
func (h *Handler) NavigateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	action := models.WebAction{Type: models.ActionNavigate, URL: req.URL}
	if err := h.engine.AssertAllowed(action, id, r.Header.Get(approvalTokenHeader)); err != nil {
		writeActionError(w, err)
		return
	}

	page, err := h.sessionMgr.GetPage(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err := page.Timeout(30 * time.Second).Navigate(req.URL); err != nil {
		h.world.AddAction(id, worldmodel.ActionOutcome{
			Action: action, Outcome: "error", Err: err.Error(), FinishedAt: time.Now(),
		})
		http.Error(w, "Navigation failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	obs := worldmodel.Observation{URL: req.URL, ObservedAt: time.Now()}
	if info, err := page.Info(); err == nil {
		obs.URL = info.URL
		obs.Title = info.Title
	}
	h.world.AddObservation(id, obs)
	h.world.AddAction(id, worldmodel.ActionOutcome{
		Action: action, Outcome: "ok", FinishedAt: time.Now(),
	})
	h.sessionMgr.Touch(id)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"url":    obs.URL,
	})
}

// EvaluateAction handles POST /v1/actions/evaluate: classify an action
// without executing it.
func (h *Handler) EvaluateAction(w http.ResponseWriter, r *http.Request) {
	var action models.WebAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	decision, err := h.engine.Evaluate(action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// DecideNext handles POST /v1/sessions/{id}/decide: the heuristic
// orchestrator picks the next action for a goal, with policy metadata.
func (h *Handler) DecideNext(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	var obs *worldmodel.Observation
	if latest, ok := h.world.LatestObservation(id); ok {
		obs = &latest
	}

	decision, err := h.agent.DecideNext(id, req.Goal, obs, h.world)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// GetDebugURL handles GET /v1/sessions/{id}/debug
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := h.sessionMgr.GetSession(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	debugURL := "ws://" + r.Host + "/v1/sessions/" + snap.SessionID + "/ws"
	writeJSON(w, http.StatusOK, map[string]string{
		"debuggerUrl": debugURL,
		"liveViewUrl": snap.LiveViewURL,
		"sessionId":   snap.SessionID,
		"backend":     string(snap.Backend),
	})
}

// writeActionError maps the confirmation sentinel to 403 with its payload;
// everything else is a plain 400.
func writeActionError(w http.ResponseWriter, err error) {
	var confirm *policy.ConfirmationRequiredError
	if errors.As(err, &confirm) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error":        "CONFIRMATION_REQUIRED",
			"sessionId":    confirm.SessionID,
			"actionDigest": confirm.ActionDigest,
			"commandHint":  confirm.CommandHint,
		})
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
