// Package policy decides whether a proposed remediation action may proceed
// automatically. The remote policy service is authoritative when reachable;
// on any failure the gate falls back to a local rule. Exactly one of the
// two paths determines each decision, and the audit record says which.
package policy

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Service implementations when the remote
// policy endpoint cannot produce a decision (timeout, non-2xx, transport
// failure). The gate treats it as "consult the local fallback".
var ErrUnavailable = errors.New("policy: remote service unavailable")

// DecisionInput is the question put to the remote policy service.
type DecisionInput struct {
	Action    string  `json:"type"`
	RiskScore float64 `json:"risk_score"`
	Agent     string  `json:"agent"`
	User      string  `json:"user"`
	Resource  string  `json:"resource"`
}

// Service is the remote policy port. Decide returns the raw allow verdict
// or ErrUnavailable.
type Service interface {
	Decide(ctx context.Context, input DecisionInput) (bool, error)
}

// destructiveActions classifies remediation action types whose effects
// cannot be trivially undone.
var destructiveActions = map[string]bool{
	"IAM_REVOKE":       true,
	"K8S_ISOLATE":      true,
	"K8S_TERMINATE":    true,
	"ISOLATE_INSTANCE": true,
	"NETWORK_BLOCK":    true,
	"BLOCK_IP":         true,
}

// IsDestructive reports whether an action type is classified destructive.
// Unknown actions are treated as non-destructive; the risk score still
// gates them through the normal decision table.
func IsDestructive(actionType string) bool {
	return destructiveActions[actionType]
}

// baseScores are per-action risk baselines used when an event carries no
// explicit risk score.
var baseScores = map[string]float64{
	"IAM_REVOKE":    0.8,
	"IAM_CREATE":    0.6,
	"K8S_ISOLATE":   0.7,
	"K8S_TERMINATE": 0.9,
	"NETWORK_BLOCK": 0.5,
	"LOG_QUERY":     0.1,
	"ALERT_CREATE":  0.2,
}

// ScoreAction computes a [0,1] risk score for an action from its baseline
// plus context adjustments.
func ScoreAction(actionType string, context map[string]any) float64 {
	score, ok := baseScores[actionType]
	if !ok {
		score = 0.5
	}
	if b, _ := context["production_environment"].(bool); b {
		score += 0.1
	}
	if b, _ := context["affects_multiple_resources"].(bool); b {
		score += 0.15
	}
	if b, _ := context["irreversible"].(bool); b {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
