package agent

import (
	"context"
	"log/slog"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// controlMappings maps audit event types to named compliance controls.
// Unmapped event types fall back to the generic alert control.
var controlMappings = map[string][]string{
	"revoked_access":     {"SOC2.CC6.1", "ISO.A.9.2.6"},
	"unauthorized_login": {"SOC2.CC6.8", "NIST.AC-2"},
	"data_exfiltration":  {"GDPR.Art.33", "HIPAA.164.308"},
}

// fallbackControl is recorded when no mapping exists for an event type.
const fallbackControl = "GENERAL_SECURITY_ALERT"

// Compliance maps security events to framework controls.
//
// Recognized input: a Log with payload key "event_type" (and optional
// "details"). Produces no message; writes one compliance_finding audit
// record per handled log.
type Compliance struct {
	store  eventstore.Store
	logger *slog.Logger
}

// NewCompliance creates the compliance agent.
func NewCompliance(store eventstore.Store, logger *slog.Logger) *Compliance {
	return &Compliance{store: store, logger: logger}
}

// Name implements Agent.
func (a *Compliance) Name() model.AgentName { return model.AgentCompliance }

// Handle implements Agent.
func (a *Compliance) Handle(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Kind != model.KindLog {
		return nil, nil
	}

	eventType := stringField(msg.Payload, "event_type")
	controls := MapControls(eventType)
	a.logger.Info("compliance: mapped controls", "event_type", eventType, "controls", controls)

	if _, err := a.store.Append(ctx, model.AuditComplianceFinding, map[string]any{
		"original_event":  eventType,
		"mapped_controls": controls,
	}, a.Name()); err != nil {
		a.logger.Error("compliance: audit append", "error", err)
	}

	return nil, nil
}

// MapControls returns the named controls for an event type, falling back
// to the generic control when no mapping exists.
func MapControls(eventType string) []string {
	if controls, ok := controlMappings[eventType]; ok {
		return controls
	}
	return []string{fallbackControl}
}
