package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// maxIncidents bounds the supervisor's in-memory incident index. The
// durable record lives in the audit store; this index only serves recent
// lookups, so the oldest entry is evicted past the cap.
const maxIncidents = 128

// Supervisor records incidents and routes them onward.
//
// Recognized input: an escalated Alert. The incident is keyed by the
// alert's correlation anchor. Output: a Command targeted at forensics with
// payload keys "incident_id" and "data" (the full alert payload).
type Supervisor struct {
	store  eventstore.Store
	logger *slog.Logger

	mu        sync.Mutex
	incidents map[uuid.UUID]map[string]any
	order     []uuid.UUID
}

// NewSupervisor creates the supervisor agent.
func NewSupervisor(store eventstore.Store, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		store:     store,
		logger:    logger,
		incidents: make(map[uuid.UUID]map[string]any),
	}
}

// record indexes the incident payload, evicting the oldest entry once the
// cap is reached.
func (a *Supervisor) record(id uuid.UUID, payload map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.incidents[id]; !seen {
		a.order = append(a.order, id)
		if len(a.order) > maxIncidents {
			delete(a.incidents, a.order[0])
			a.order = a.order[1:]
		}
	}
	a.incidents[id] = payload
}

// Name implements Agent.
func (a *Supervisor) Name() model.AgentName { return model.AgentSupervisor }

// Handle implements Agent.
func (a *Supervisor) Handle(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Kind != model.KindAlert {
		return nil, nil
	}

	incidentID := msg.Correlation()
	a.record(incidentID, msg.Payload)

	a.logger.Info("supervisor: incident recorded", "incident_id", incidentID)
	if _, err := a.store.Append(ctx, model.AuditIncidentRecorded, map[string]any{
		"incident_id": incidentID.String(),
		"risk_score":  msg.Payload["risk_score"],
	}, a.Name()); err != nil {
		a.logger.Error("supervisor: audit append", "error", err)
	}

	cmd := msg.Derive(model.KindCommand, a.Name(), map[string]any{
		"incident_id": incidentID.String(),
		"data":        msg.Payload,
	}, model.WithTarget(model.AgentForensics), model.WithPriority(msg.Priority))

	return &cmd, nil
}

// Incident returns the recorded payload for an incident id, if any.
func (a *Supervisor) Incident(id uuid.UUID) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.incidents[id]
	return p, ok
}
