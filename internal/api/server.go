package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"webbroker/internal/proxy"
	"webbroker/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(approvalHandler *ApprovalHandler, proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Apply rate limiting middleware to session endpoints
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, 100))

	// Session endpoints (rate limited)
	rateLimitedAPI.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	rateLimitedAPI.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	rateLimitedAPI.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")

	// Action endpoints
	api.HandleFunc("/sessions/{id}/navigate", h.NavigateSession).Methods("POST", "OPTIONS")
	api.HandleFunc("/sessions/{id}/decide", h.DecideNext).Methods("POST")
	api.HandleFunc("/actions/evaluate", h.EvaluateAction).Methods("POST")

	// Approval endpoint (the human-confirmation handoff)
	api.HandleFunc("/approvals", approvalHandler.CreateApproval).Methods("POST")

	// Debug endpoints (not rate limited)
	api.HandleFunc("/sessions/{id}/debug", h.GetDebugURL).Methods("GET")
	api.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		proxyServer.HandleDebugConnection(w, r, sessionID)
	}).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Approval-Token, X-Profile-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
