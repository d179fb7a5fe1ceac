package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/halcyon-sec/soar/internal/agent"
	"github.com/halcyon-sec/soar/internal/policy"
)

const detectionThreshold = 0.5

// Source feeds the telemetry agent one scripted scenario per poll.
type Source struct {
	pick func() Scenario
}

// NewSource returns a source that picks a random scenario on each poll.
func NewSource() *Source {
	return &Source{pick: Random}
}

// NewFixedSource returns a source that always serves the given scenario.
func NewFixedSource(s Scenario) *Source {
	return &Source{pick: func() Scenario { return s }}
}

// Poll implements agent.EventSource.
func (s *Source) Poll(ctx context.Context) (*agent.TelemetryEvent, error) {
	scenario := s.pick()
	return &agent.TelemetryEvent{
		Provider: "sim." + scenario.Name,
		Data:     scenario.Event(),
	}, nil
}

// Analyzer is a deterministic stand-in for the risk-analysis port. It
// trusts the risk score the scenario embedded in the event, falling back
// to the per-action baseline when the event carries none.
type Analyzer struct{}

// Analyze implements agent.RiskAnalyzer.
func (Analyzer) Analyze(ctx context.Context, event map[string]any) (agent.Analysis, error) {
	score, ok := event["risk_score"].(float64)
	if !ok {
		action, _ := event["action"].(string)
		score = policy.ScoreAction(action, nil)
	}
	reasoning, _ := event["alert"].(string)
	if reasoning == "" {
		reasoning = "Anomalous activity confirmed"
	}
	return agent.Analysis{
		Detected:  score >= detectionThreshold,
		RiskScore: score,
		Reasoning: reasoning,
	}, nil
}

// Remediator pretends to execute remediation actions. Execution takes a
// beat of wall time and always succeeds unless cancelled.
type Remediator struct {
	logger *slog.Logger
}

// NewRemediator creates the simulated remediation port.
func NewRemediator(logger *slog.Logger) *Remediator {
	return &Remediator{logger: logger}
}

// Execute implements agent.Remediator.
func (r *Remediator) Execute(ctx context.Context, actionType, target string) (bool, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	r.logger.Info("sim: remediation executed", "action", actionType, "target", target)
	return true, nil
}
