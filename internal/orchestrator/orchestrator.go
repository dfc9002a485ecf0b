package orchestrator

import (
	"regexp"
	"strings"

	"webbroker/internal/policy"
	"webbroker/internal/worldmodel"
	"webbroker/pkg/models"
)

// shortContentThreshold marks a visible-text length below which scrolling is
// likely to reveal more of the page.
const shortContentThreshold = 400

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s"'<>]+`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
)

// Decision is the orchestrator's chosen next action plus the policy verdict
// attached to it.
type Decision struct {
	Action models.WebAction      `json:"action"`
	Policy models.PolicyDecision `json:"policy"`
}

// Orchestrator picks the next automation action with a deterministic
// heuristic. It never interprets page semantics; it only routes between the
// handful of primitive actions.
type Orchestrator struct {
	policy *policy.Engine
}

// New creates an orchestrator gated by the given policy engine.
func New(engine *policy.Engine) *Orchestrator {
	return &Orchestrator{policy: engine}
}

// DecideNext chooses the next action for a goal given the latest observation
// (nil when the session has not observed a page yet). Every decision passes
// through the policy engine so callers always see risk metadata.
func (o *Orchestrator) DecideNext(sessionID, goal string, obs *worldmodel.Observation, model *worldmodel.Model) (Decision, error) {
	action := o.chooseAction(goal, obs)

	verdict, err := o.policy.Evaluate(action)
	if err != nil {
		return Decision{}, err
	}
	if model != nil {
		model.SetGoal(sessionID, goal)
	}
	return Decision{Action: action, Policy: verdict}, nil
}

func (o *Orchestrator) chooseAction(goal string, obs *worldmodel.Observation) models.WebAction {
	lower := strings.ToLower(goal)

	if obs == nil {
		if url := urlPattern.FindString(goal); url != "" {
			return models.WebAction{Type: models.ActionNavigate, URL: url}
		}
		return models.WebAction{Type: models.ActionSearch, Value: goal}
	}

	switch {
	case containsAny(lower, "click", "press", "tap"):
		target := quotedTarget(goal)
		return models.WebAction{
			Type:   models.ActionClick,
			Target: &models.ActionTarget{Text: target},
		}
	case containsAny(lower, "fill", "type", "enter "):
		return models.WebAction{
			Type:   models.ActionFill,
			Target: &models.ActionTarget{Selector: "input[type=text], textarea"},
			Value:  quotedTarget(goal),
		}
	case strings.Contains(lower, "scroll") && len(obs.Text) < shortContentThreshold:
		return models.WebAction{
			Type:    models.ActionScroll,
			Options: map[string]any{"direction": "down"},
		}
	default:
		return models.WebAction{Type: models.ActionExtract}
	}
}

// quotedTarget returns the first quoted phrase in the goal, or the goal's
// last word when nothing is quoted.
func quotedTarget(goal string) string {
	if m := quotedPattern.FindStringSubmatch(goal); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	fields := strings.Fields(goal)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
