package policy

import (
	"context"
	"log/slog"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

// fallbackRiskThreshold is the local rule's cutoff: destructive actions
// scoring above it require human approval when the remote gate is down.
const fallbackRiskThreshold = 0.7

// Decision source labels recorded in the audit trail.
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// ActionRequest describes the proposed action being gated.
type ActionRequest struct {
	Action      string
	Target      string
	Agent       model.AgentName
	User        string
	Destructive bool
}

// Decision is the gate's verdict. Exactly one of the remote service or the
// local fallback produced it; Source records which.
type Decision struct {
	Allow            bool
	RequiresApproval bool
	Source           string
	Reason           string
}

// Gate evaluates proposed actions. It never returns an error: remote
// failures degrade to the local rule rather than surfacing to the caller.
type Gate struct {
	remote Service
	store  eventstore.Store
	logger *slog.Logger

	// failClosed flips the fallback rule to deny-by-default. The default
	// is fail-open: allow unless destructive and high-risk.
	failClosed bool
}

// NewGate creates a policy gate. remote may be nil, in which case every
// decision uses the local fallback.
func NewGate(remote Service, store eventstore.Store, logger *slog.Logger, failClosed bool) *Gate {
	return &Gate{remote: remote, store: store, logger: logger, failClosed: failClosed}
}

// Evaluate runs the decision table for one proposed action.
func (g *Gate) Evaluate(ctx context.Context, req ActionRequest, riskScore float64) Decision {
	d := g.decide(ctx, req, riskScore)

	if _, err := g.store.Append(ctx, model.AuditPolicyDecision, map[string]any{
		"action":            req.Action,
		"target":            req.Target,
		"risk_score":        riskScore,
		"destructive":       req.Destructive,
		"allow":             d.Allow,
		"requires_approval": d.RequiresApproval,
		"source":            d.Source,
		"reason":            d.Reason,
	}, model.AgentSupervisor); err != nil {
		g.logger.Error("policy: audit append", "error", err)
	}
	return d
}

func (g *Gate) decide(ctx context.Context, req ActionRequest, riskScore float64) Decision {
	if g.remote != nil {
		allow, err := g.remote.Decide(ctx, DecisionInput{
			Action:    req.Action,
			RiskScore: riskScore,
			Agent:     string(req.Agent),
			User:      req.User,
			Resource:  req.Target,
		})
		if err == nil {
			if allow {
				return Decision{Allow: true, Source: SourceRemote, Reason: "allowed by policy"}
			}
			return Decision{Allow: false, Source: SourceRemote, Reason: "policy denied"}
		}
		g.logger.Warn("policy: remote unavailable, using local fallback",
			"action", req.Action, "error", err)
	}

	if g.failClosed {
		return Decision{Allow: false, Source: SourceFallback, Reason: "policy unavailable (fail-closed)"}
	}
	if req.Destructive && riskScore > fallbackRiskThreshold {
		return Decision{
			Allow:            true,
			RequiresApproval: true,
			Source:           SourceFallback,
			Reason:           "high risk destructive action requires approval",
		}
	}
	return Decision{Allow: true, Source: SourceFallback, Reason: "allowed by local policy"}
}
