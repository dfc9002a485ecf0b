package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"webbroker/pkg/models"
)

// ComputeActionDigest hashes a canonical serialization of the action. The
// action is round-tripped through a generic map so that object keys are
// emitted in sorted order at every nesting level; structurally identical
// actions digest identically regardless of field insertion order.
func ComputeActionDigest(action models.WebAction) (string, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("marshal action: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("canonicalize action: %w", err)
	}

	// encoding/json serializes map keys in sorted order, recursively.
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("serialize canonical action: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
