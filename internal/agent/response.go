package agent

import (
	"context"
	"log/slog"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// Response executes remediation actions through the external port.
//
// Recognized input: a Command targeted at response with payload keys
// "action" and "target". Output: a Response addressed to the supervisor
// with payload keys "success" and "action". A failed or erroring
// remediation still produces output, since the attempt itself must be audited.
type Response struct {
	remediator Remediator
	store      eventstore.Store
	logger     *slog.Logger
}

// NewResponse creates the response agent.
func NewResponse(remediator Remediator, store eventstore.Store, logger *slog.Logger) *Response {
	return &Response{remediator: remediator, store: store, logger: logger}
}

// Name implements Agent.
func (a *Response) Name() model.AgentName { return model.AgentResponse }

// Handle implements Agent.
func (a *Response) Handle(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Kind != model.KindCommand || msg.Target != a.Name() {
		return nil, nil
	}

	action := stringField(msg.Payload, "action")
	target := stringField(msg.Payload, "target")

	a.logger.Info("response: executing remediation", "action", action, "target", target)
	success, err := a.remediator.Execute(ctx, action, target)
	if err != nil {
		a.logger.Error("response: remediation error", "action", action, "target", target, "error", err)
		success = false
	}

	if _, auditErr := a.store.Append(ctx, model.AuditRemediationExecuted, map[string]any{
		"action":  action,
		"target":  target,
		"success": success,
	}, a.Name()); auditErr != nil {
		a.logger.Error("response: audit append", "error", auditErr)
	}

	out := msg.Derive(model.KindResponse, a.Name(), map[string]any{
		"success": success,
		"action":  action,
	}, model.WithTarget(model.AgentSupervisor))
	return &out, nil
}
