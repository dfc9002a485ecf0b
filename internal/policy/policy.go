package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"webbroker/pkg/models"
)

// riskyClickKeywords marks click targets that commit, destroy, or publish.
var riskyClickKeywords = []string{
	"buy", "purchase", "order", "confirm", "delete", "remove",
	"send", "publish", "transfer", "save", "submit",
}

// Engine classifies actions and gates high-risk ones behind approval tokens.
type Engine struct {
	secret string
}

// NewEngine creates a policy engine signing approval tokens with secret.
func NewEngine(secret string) *Engine {
	if secret == "" {
		secret = ApprovalSecret()
	}
	return &Engine{secret: secret}
}

// ClassifyRisk maps an action to a risk level. Unknown action types classify
// as medium: fail closed, not open.
func ClassifyRisk(action models.WebAction) (models.Risk, string) {
	switch action.Type {
	case models.ActionSubmit:
		return models.RiskHigh, "form submission commits state"
	case models.ActionClick:
		if target := clickTargetText(action); target != "" {
			for _, kw := range riskyClickKeywords {
				if strings.Contains(target, kw) {
					return models.RiskHigh, fmt.Sprintf("click target mentions %q", kw)
				}
			}
		}
		return models.RiskMedium, "click may change page state"
	case models.ActionFill:
		return models.RiskMedium, "fill writes into a form field"
	case models.ActionNavigate, models.ActionSearch, models.ActionExtract,
		models.ActionScroll, models.ActionWait:
		return models.RiskLow, "read-only or reversible action"
	default:
		return models.RiskMedium, fmt.Sprintf("unrecognized action type %q", action.Type)
	}
}

func clickTargetText(action models.WebAction) string {
	if action.Target == nil {
		return ""
	}
	return strings.ToLower(action.Target.Text + " " + action.Target.Selector)
}

// Evaluate classifies an action and computes its canonical digest. High-risk
// actions require confirmation.
func (e *Engine) Evaluate(action models.WebAction) (models.PolicyDecision, error) {
	risk, reason := ClassifyRisk(action)
	digest, err := ComputeActionDigest(action)
	if err != nil {
		return models.PolicyDecision{}, err
	}
	return models.PolicyDecision{
		Risk:              risk,
		NeedsConfirmation: risk == models.RiskHigh,
		Reason:            reason,
		ActionDigest:      digest,
	}, nil
}

// AssertAllowed permits the action, or returns a *ConfirmationRequiredError
// when a high-risk action lacks a valid approval token for this session.
func (e *Engine) AssertAllowed(action models.WebAction, sessionID, token string) error {
	decision, err := e.Evaluate(action)
	if err != nil {
		return err
	}
	if !decision.NeedsConfirmation {
		return nil
	}
	if VerifyApprovalToken(e.secret, sessionID, decision.ActionDigest, token) {
		return nil
	}
	return &ConfirmationRequiredError{
		SessionID:    sessionID,
		ActionDigest: decision.ActionDigest,
		CommandHint:  fmt.Sprintf("web approve %s %s", sessionID, decision.ActionDigest),
	}
}

// ConfirmationRequiredError signals the security gate, not a failure. The
// error string is the handoff contract to an external approval front end,
// which must obtain a token for this exact (session, digest) pair and retry.
type ConfirmationRequiredError struct {
	SessionID    string `json:"sessionId"`
	ActionDigest string `json:"actionDigest"`
	CommandHint  string `json:"commandHint"`
}

func (e *ConfirmationRequiredError) Error() string {
	payload, err := json.Marshal(e)
	if err != nil {
		return "CONFIRMATION_REQUIRED"
	}
	return "CONFIRMATION_REQUIRED: " + string(payload)
}
