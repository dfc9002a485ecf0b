package api

import (
	"encoding/json"
	"net/http"

	"webbroker/internal/policy"
)

// ApprovalHandler mints approval tokens for the human-approval front end.
// It signs with the same shared secret the policy engine verifies against.
type ApprovalHandler struct {
	secret string
}

// NewApprovalHandler creates a handler signing with secret.
func NewApprovalHandler(secret string) *ApprovalHandler {
	if secret == "" {
		secret = policy.ApprovalSecret()
	}
	return &ApprovalHandler{secret: secret}
}

type approvalRequest struct {
	SessionID    string `json:"sessionId"`
	ActionDigest string `json:"actionDigest"`
}

// CreateApproval handles POST /v1/approvals: a human operator exchanges a
// (session, digest) pair for the token that unblocks that exact action.
func (h *ApprovalHandler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.ActionDigest == "" {
		http.Error(w, "sessionId and actionDigest are required", http.StatusBadRequest)
		return
	}

	token := policy.SignApprovalToken(h.secret, req.SessionID, req.ActionDigest)
	writeJSON(w, http.StatusCreated, map[string]string{
		"sessionId":    req.SessionID,
		"actionDigest": req.ActionDigest,
		"token":        token,
	})
}
