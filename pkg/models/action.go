package models

// ActionType tags a WebAction variant.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionSearch   ActionType = "search"
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
	ActionExtract  ActionType = "extract"
	ActionSubmit   ActionType = "submit"
)

// ActionTarget identifies the page element an action operates on.
type ActionTarget struct {
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
}

// WebAction is one automation action, immutable per decision cycle.
// Fields are populated according to the Type tag.
type WebAction struct {
	Type    ActionType     `json:"type"`
	URL     string         `json:"url,omitempty"`
	Value   string         `json:"value,omitempty"`
	Target  *ActionTarget  `json:"target,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Risk is the classified danger level of an action.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// PolicyDecision is the policy engine's verdict for one action.
type PolicyDecision struct {
	Risk              Risk   `json:"risk"`
	NeedsConfirmation bool   `json:"needsConfirmation"`
	Reason            string `json:"reason"`
	ActionDigest      string `json:"actionDigest"`
}
