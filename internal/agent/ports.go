package agent

import "context"

// TelemetryEvent is one raw event pulled from a log source.
type TelemetryEvent struct {
	Provider string
	Data     map[string]any
}

// EventSource feeds the telemetry agent. Poll returns nil when no event is
// pending; absence of signal is not an error.
type EventSource interface {
	Poll(ctx context.Context) (*TelemetryEvent, error)
}

// Analysis is the outcome of the external risk-analysis port.
type Analysis struct {
	Detected  bool
	RiskScore float64
	Reasoning string
}

// RiskAnalyzer decides whether a raw event is a threat. The concrete
// reasoning (rules, models, LLMs) is outside the engine.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, event map[string]any) (Analysis, error)
}

// Remediator executes a remediation action against a target. Returns
// success or failure only; the concrete IAM/network/K8s calls are outside
// the engine.
type Remediator interface {
	Execute(ctx context.Context, actionType, target string) (bool, error)
}
