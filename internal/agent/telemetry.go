package agent

import (
	"context"
	"log/slog"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// Telemetry pulls raw events from a log source when commanded.
//
// Recognized input: a Command with payload key "action" == "start_polling".
// Output: an Alert with payload keys "event" (raw event map) and
// "provider", priority Medium. No pending event means no output.
type Telemetry struct {
	source EventSource
	store  eventstore.Store
	logger *slog.Logger
}

// NewTelemetry creates the telemetry agent.
func NewTelemetry(source EventSource, store eventstore.Store, logger *slog.Logger) *Telemetry {
	return &Telemetry{source: source, store: store, logger: logger}
}

// Name implements Agent.
func (a *Telemetry) Name() model.AgentName { return model.AgentTelemetry }

// Handle implements Agent.
func (a *Telemetry) Handle(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Kind != model.KindCommand || !msg.AddressedTo(a.Name()) {
		return nil, nil
	}
	if stringField(msg.Payload, "action") != "start_polling" {
		return nil, nil
	}

	event, err := a.source.Poll(ctx)
	if err != nil {
		return nil, err
	}
	if event == nil {
		a.logger.Debug("telemetry: no events pending")
		return nil, nil
	}

	alert := msg.Derive(model.KindAlert, a.Name(), map[string]any{
		"event":    event.Data,
		"provider": event.Provider,
	}, model.WithPriority(model.PriorityMedium))

	if _, err := a.store.Append(ctx, model.AuditLogIngestion, map[string]any{
		"provider": event.Provider,
		"event_id": stringField(event.Data, "eventID"),
	}, a.Name()); err != nil {
		a.logger.Error("telemetry: audit append", "error", err)
	}

	return &alert, nil
}
