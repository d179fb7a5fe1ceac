package agent

import (
	"context"
	"log/slog"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// Detection applies the external risk-analysis port to telemetry alerts.
//
// Recognized input: an Alert from the telemetry agent carrying an "event"
// payload. Output when the analysis reports a detection: an escalated
// Alert with payload keys "risk_score", "reasoning", "original_event",
// priority High. No detection means no output.
type Detection struct {
	analyzer RiskAnalyzer
	store    eventstore.Store
	logger   *slog.Logger
}

// NewDetection creates the detection agent.
func NewDetection(analyzer RiskAnalyzer, store eventstore.Store, logger *slog.Logger) *Detection {
	return &Detection{analyzer: analyzer, store: store, logger: logger}
}

// Name implements Agent.
func (a *Detection) Name() model.AgentName { return model.AgentDetection }

// Handle implements Agent.
func (a *Detection) Handle(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Kind != model.KindAlert || msg.Source != model.AgentTelemetry {
		return nil, nil
	}

	event := mapField(msg.Payload, "event")
	analysis, err := a.analyzer.Analyze(ctx, event)
	if err != nil {
		return nil, err
	}
	if !analysis.Detected {
		a.logger.Debug("detection: event benign", "correlation_id", msg.Correlation())
		return nil, nil
	}

	escalated := msg.Derive(model.KindAlert, a.Name(), map[string]any{
		"risk_score":     analysis.RiskScore,
		"reasoning":      analysis.Reasoning,
		"original_event": event,
	}, model.WithPriority(model.PriorityHigh))

	if _, err := a.store.Append(ctx, model.AuditThreatDetected, map[string]any{
		"risk_score": analysis.RiskScore,
		"reasoning":  analysis.Reasoning,
	}, a.Name()); err != nil {
		a.logger.Error("detection: audit append", "error", err)
	}

	return &escalated, nil
}
