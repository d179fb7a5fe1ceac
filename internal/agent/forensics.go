package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// Forensics reconstructs root cause and blast radius for an incident.
//
// Recognized input: a Command targeted at forensics with payload keys
// "incident_id" and "data". Output: a Report addressed to the supervisor
// with payload keys "root_cause", "impact_level", "blast_radius"
// (model.Graph), and "evidence".
type Forensics struct {
	store  eventstore.Store
	logger *slog.Logger
}

// NewForensics creates the forensics agent.
func NewForensics(store eventstore.Store, logger *slog.Logger) *Forensics {
	return &Forensics{store: store, logger: logger}
}

// Name implements Agent.
func (a *Forensics) Name() model.AgentName { return model.AgentForensics }

// Handle implements Agent.
func (a *Forensics) Handle(ctx context.Context, msg model.Message) (*model.Message, error) {
	if msg.Kind != model.KindCommand || msg.Target != a.Name() {
		return nil, nil
	}

	incidentID := stringField(msg.Payload, "incident_id")
	if _, err := a.store.Append(ctx, model.AuditForensicsStarted, map[string]any{
		"incident_id": incidentID,
	}, a.Name()); err != nil {
		a.logger.Error("forensics: audit append", "error", err)
	}

	data := mapField(msg.Payload, "data")
	report := a.reconstruct(data)

	if _, err := a.store.Append(ctx, model.AuditForensicsComplete, map[string]any{
		"incident_id":  incidentID,
		"root_cause":   report["root_cause"],
		"impact_level": report["impact_level"],
	}, a.Name()); err != nil {
		a.logger.Error("forensics: audit append", "error", err)
	}

	out := msg.Derive(model.KindReport, a.Name(), report,
		model.WithTarget(model.AgentSupervisor), model.WithPriority(model.PriorityHigh))
	return &out, nil
}

// reconstruct builds the deterministic-shape report from the incident data.
// The detection payload carries the event and reasoning; a blast-radius
// graph supplied by the event source is used verbatim, otherwise a minimal
// graph is derived from the event's actor and target fields.
func (a *Forensics) reconstruct(data map[string]any) map[string]any {
	riskScore, _ := data["risk_score"].(float64)
	reasoning := stringField(data, "reasoning")
	if reasoning == "" {
		reasoning = "Unattributed suspicious activity"
	}

	event := mapField(data, "original_event")
	graph := graphFromEvent(event, riskScore)

	evidence := []string{}
	if reasoning != "" {
		evidence = append(evidence, reasoning)
	}
	if provider := stringField(event, "provider"); provider != "" {
		evidence = append(evidence, "correlated events from "+provider)
	}
	if len(evidence) == 0 {
		evidence = append(evidence, "event trace reconstruction")
	}

	return map[string]any{
		"root_cause":   reasoning,
		"impact_level": model.RiskLevelOf(riskScore),
		"blast_radius": graph,
		"evidence":     evidence,
	}
}

// graphFromEvent returns the event-supplied blast-radius graph when one is
// present, else derives a two-node actor→resource graph.
func graphFromEvent(event map[string]any, riskScore float64) model.Graph {
	if raw, ok := event["graph"]; ok {
		// The source may hand the graph over as a typed value or as the
		// generic map shape produced by JSON decoding.
		switch g := raw.(type) {
		case model.Graph:
			return g
		case map[string]any:
			if decoded, ok := decodeGraph(g); ok {
				return decoded
			}
		}
	}

	actor := stringField(event, "ip")
	if actor == "" {
		actor = stringField(event, "sourceIPAddress")
	}
	if actor == "" {
		actor = "unknown-actor"
	}
	target := stringField(event, "user")
	if target == "" {
		target = stringField(event, "target")
	}
	if target == "" {
		target = "unknown-resource"
	}

	return model.Graph{
		Nodes: []model.GraphNode{
			{ID: "threat-actor", Kind: "threat_actor", Label: actor, Risk: "critical"},
			{ID: "affected", Kind: "resource", Label: target, Risk: model.RiskLevelOf(riskScore)},
		},
		Edges: []model.GraphEdge{
			{Source: "threat-actor", Target: "affected", Label: "suspicious activity"},
		},
	}
}

func decodeGraph(m map[string]any) (model.Graph, bool) {
	raw, err := json.Marshal(m)
	if err != nil {
		return model.Graph{}, false
	}
	var g model.Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return model.Graph{}, false
	}
	return g, len(g.Nodes) > 0
}
