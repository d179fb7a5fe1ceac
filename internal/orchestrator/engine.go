// Package orchestrator drives one incident run through the fixed stage
// pipeline: Init, Ingest, Detect, Evaluate, an optional approval wait,
// Investigate, Remediate, Audit, Completed. Stages execute strictly in
// order; stage failures are audited and the run advances; cancellation is
// terminal from any non-terminal stage and atomic with stage entry.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/halcyon-sec/soar/internal/agent"
	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/model"
	"github.com/halcyon-sec/soar/internal/policy"
	"github.com/halcyon-sec/soar/internal/telemetry"
)

var (
	tracer = otel.Tracer("soar/orchestrator")
	meter  = telemetry.Meter("soar/orchestrator")
)

// Terminal status reasons.
const (
	reasonNoEvents        = "no events pending"
	reasonNoThreat        = "no threat detected"
	reasonPolicyDenied    = "policy denied"
	reasonApprovalTimeout = "approval timed out"
	reasonCancelled       = "cancelled by operator"
)

// Agents bundles the six pipeline participants.
type Agents struct {
	Telemetry  agent.Agent
	Detection  agent.Agent
	Supervisor agent.Agent
	Forensics  agent.Agent
	Response   agent.Agent
	Compliance agent.Agent
}

// Engine executes incident runs. One Execute call drives one run to a
// terminal state; concurrent runs share only the store, hub, and broker.
type Engine struct {
	agents Agents
	gate   *policy.Gate
	store  eventstore.Store
	hub    *hub.Hub
	broker *Broker
	logger *slog.Logger

	// approvalTimeout bounds the approval wait; zero means unbounded.
	approvalTimeout time.Duration
}

// Config carries the engine's collaborators.
type Config struct {
	Agents          Agents
	Gate            *policy.Gate
	Store           eventstore.Store
	Hub             *hub.Hub
	Broker          *Broker
	Logger          *slog.Logger
	ApprovalTimeout time.Duration
}

// New creates an engine.
func New(cfg Config) *Engine {
	return &Engine{
		agents:          cfg.Agents,
		gate:            cfg.Gate,
		store:           cfg.Store,
		hub:             cfg.Hub,
		broker:          cfg.Broker,
		logger:          cfg.Logger,
		approvalTimeout: cfg.ApprovalTimeout,
	}
}

// Execute drives the run to a terminal state. It always returns with the
// run finished, its terminal audit record appended, and h.Done closed.
func (e *Engine) Execute(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer e.broker.Resolve(h.RunID())

	ctx, span := tracer.Start(ctx, "run.execute",
		trace.WithAttributes(
			attribute.String("run_id", h.RunID().String()),
			attribute.String("session_id", h.Run.SessionID),
		),
	)
	defer span.End()

	run := h.Run
	logger := e.logger.With("run_id", run.ID, "session_id", run.SessionID)
	logger.Info("run started")

	e.countRun(ctx, "soar.runs.started")
	e.audit(ctx, model.AuditRunStarted, map[string]any{
		"run_id":     run.ID.String(),
		"session_id": run.SessionID,
	}, model.AgentSystem)
	e.progress(run.ID, model.AgentSystem, "started", "Incident run started", "info")

	// Ingest: poll the telemetry source.
	if !e.enter(ctx, h, model.StageIngest) {
		return
	}
	e.progress(run.ID, model.AgentTelemetry, "working", "Polling log sources", "info")
	pollCmd := model.NewMessage(model.KindCommand, model.AgentSystem,
		map[string]any{"action": "start_polling"},
		model.WithTarget(model.AgentTelemetry),
		model.WithCorrelation(run.CorrelationID))
	alert := e.invoke(ctx, h, e.agents.Telemetry, pollCmd)
	if alert == nil {
		e.complete(ctx, h, logger, reasonNoEvents)
		return
	}
	e.progress(run.ID, model.AgentTelemetry, "done", "Raw event ingested", "info")

	// Detect: risk analysis over the raw event.
	if !e.enter(ctx, h, model.StageDetect) {
		return
	}
	e.progress(run.ID, model.AgentDetection, "working", "Analyzing event", "info")
	escalated := e.invoke(ctx, h, e.agents.Detection, *alert)
	if escalated == nil {
		e.complete(ctx, h, logger, reasonNoThreat)
		return
	}
	riskScore, _ := escalated.Payload["risk_score"].(float64)
	run.RiskScore = riskScore
	e.progress(run.ID, model.AgentDetection, "done",
		stringAt(escalated.Payload, "reasoning"), severityFor(riskScore))

	// Evaluate: consult the policy gate for the proposed action.
	if !e.enter(ctx, h, model.StageEvaluate) {
		return
	}
	event := mapAt(escalated.Payload, "original_event")
	action := stringAt(event, "action")
	target := stringAt(event, "target")
	decision := e.gate.Evaluate(ctx, policy.ActionRequest{
		Action:      action,
		Target:      target,
		Agent:       model.AgentResponse,
		User:        stringAt(event, "user"),
		Destructive: policy.IsDestructive(action),
	}, riskScore)
	logger.Info("policy decision",
		"action", action, "allow", decision.Allow,
		"requires_approval", decision.RequiresApproval, "source", decision.Source)

	if !decision.Allow {
		e.terminate(ctx, h, logger, model.RunStatusPolicyDenied, reasonPolicyDenied)
		return
	}

	if decision.RequiresApproval {
		if !e.awaitApproval(ctx, h, logger, action, target, riskScore) {
			return
		}
	}

	// Investigate: supervisor records the incident, forensics reconstructs.
	if !e.enter(ctx, h, model.StageInvestigate) {
		return
	}
	e.progress(run.ID, model.AgentSupervisor, "working", "Recording incident", "info")
	forensicsCmd := e.invoke(ctx, h, e.agents.Supervisor, *escalated)
	var report *model.Message
	if forensicsCmd != nil {
		e.progress(run.ID, model.AgentForensics, "working", "Reconstructing blast radius", "info")
		report = e.invoke(ctx, h, e.agents.Forensics, *forensicsCmd)
	}
	if report != nil {
		e.publishBlastRadius(run.ID, report.Payload)
		e.progress(run.ID, model.AgentForensics, "done",
			stringAt(report.Payload, "root_cause"), severityFor(riskScore))
	}

	// Remediate: stage entry is atomic with cancel, so no remediation
	// starts after a cancellation has been observed.
	if !e.enter(ctx, h, model.StageRemediate) {
		return
	}
	e.progress(run.ID, model.AgentResponse, "working", "Executing "+action, "warning")
	respCmd := escalated.Derive(model.KindCommand, model.AgentSupervisor,
		map[string]any{"action": action, "target": target},
		model.WithTarget(model.AgentResponse),
		model.WithPriority(model.PriorityCritical))
	resp := e.invoke(ctx, h, e.agents.Response, respCmd)
	success := false
	if resp != nil {
		success, _ = resp.Payload["success"].(bool)
	}
	status := "done"
	if !success {
		status = "failed"
	}
	e.progress(run.ID, model.AgentResponse, status, "Remediation "+status+": "+action, "warning")

	// Audit: compliance mapping runs even when remediation failed.
	if !e.enter(ctx, h, model.StageAudit) {
		return
	}
	e.progress(run.ID, model.AgentCompliance, "working", "Mapping compliance controls", "info")
	logMsg := escalated.Derive(model.KindLog, model.AgentSystem, map[string]any{
		"event_type": complianceEventType(action),
		"details": map[string]any{
			"action":  action,
			"target":  target,
			"success": success,
		},
	}, model.WithTarget(model.AgentCompliance))
	e.invoke(ctx, h, e.agents.Compliance, logMsg)

	e.complete(ctx, h, logger, "")
}

// enter advances the run to the stage, or finishes it Cancelled when a
// cancel has been observed.
func (e *Engine) enter(ctx context.Context, h *Handle, s model.Stage) bool {
	reason, ok := h.enterStage(s)
	if !ok {
		if reason == "" {
			reason = reasonCancelled
		}
		e.terminate(ctx, h, e.logger.With("run_id", h.RunID()), model.RunStatusCancelled, reason)
		return false
	}
	return true
}

// invoke runs one agent over one message. The produced message, if any, is
// appended to the run trail and published before the caller advances. An
// agent error or panic is audited as an agent failure and yields nil.
func (e *Engine) invoke(ctx context.Context, h *Handle, a agent.Agent, msg model.Message) *model.Message {
	ctx, span := tracer.Start(ctx, "agent."+string(a.Name()))
	defer span.End()

	out, err := agent.Safe(ctx, a, msg)
	if err != nil {
		e.logger.Error("agent failure",
			"run_id", h.RunID(), "agent", a.Name(), "error", err)
		e.audit(ctx, model.AuditAgentFailure, map[string]any{
			"run_id": h.RunID().String(),
			"agent":  string(a.Name()),
			"error":  err.Error(),
		}, a.Name())
		e.progress(h.RunID(), a.Name(), "failed", "Agent failed, continuing run", "error")
		return nil
	}
	if out != nil {
		h.Run.Append(*out)
		e.hub.Publish(*out)
	}
	return out
}

// awaitApproval suspends the run on the approval broker. Returns true when
// the run was approved; false when it was cancelled or timed out, in which
// case the run has been finished.
func (e *Engine) awaitApproval(ctx context.Context, h *Handle, logger *slog.Logger, action, target string, riskScore float64) bool {
	if !e.enter(ctx, h, model.StageAwaitApproval) {
		return false
	}
	run := h.Run
	run.Approval = model.ApprovalPending

	// Open the gate before publishing so an immediate approval is not lost.
	e.broker.Register(run.ID)
	e.hub.Publish(model.ApprovalRequiredEvent{
		Type:      model.FeedApprovalRequired,
		RunID:     run.ID,
		Action:    action,
		Target:    target,
		RiskScore: riskScore,
	})
	e.progress(run.ID, model.AgentSupervisor, "waiting",
		"Awaiting human approval for "+action, "warning")
	logger.Info("awaiting approval", "action", action, "risk_score", riskScore)

	waitCtx := ctx
	if e.approvalTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.approvalTimeout)
		defer cancel()
	}

	if err := e.broker.Await(waitCtx, run.ID); err != nil {
		run.Approval = model.ApprovalCancelled
		if ctx.Err() == nil && waitCtx.Err() == context.DeadlineExceeded {
			e.terminate(ctx, h, logger, model.RunStatusCancelled, reasonApprovalTimeout)
		} else {
			reason, _ := h.cancelFor()
			if reason == "" {
				reason = reasonCancelled
			}
			e.terminate(ctx, h, logger, model.RunStatusCancelled, reason)
		}
		return false
	}

	run.Approval = model.ApprovalApproved
	e.progress(run.ID, model.AgentSupervisor, "done", "Approval received", "info")
	logger.Info("approval received")
	return true
}

// complete finishes the run Completed. An empty reason means the full
// pipeline ran; otherwise the run ended early with nothing to act on.
func (e *Engine) complete(ctx context.Context, h *Handle, logger *slog.Logger, reason string) {
	h.finish(model.StageCompleted, model.RunStatusCompleted, reason)
	e.end(ctx, h, logger, "soar.runs.completed")
}

// terminate finishes the run Cancelled with the given terminal status.
func (e *Engine) terminate(ctx context.Context, h *Handle, logger *slog.Logger, status model.RunStatus, reason string) {
	h.finish(model.StageCancelled, status, reason)
	e.end(ctx, h, logger, "soar.runs.cancelled")
}

func (e *Engine) end(ctx context.Context, h *Handle, logger *slog.Logger, counter string) {
	run := h.Run
	now := time.Now().UTC()
	run.EndedAt = &now

	e.countRun(ctx, counter)
	e.audit(ctx, model.AuditRunEnded, map[string]any{
		"run_id": run.ID.String(),
		"status": string(run.Status),
		"reason": run.StatusReason,
	}, model.AgentSystem)
	e.hub.Publish(model.RunEndedEvent{
		Type:   model.FeedRunEnded,
		RunID:  run.ID,
		Status: run.Status,
		Reason: run.StatusReason,
	})
	logger.Info("run ended", "status", run.Status, "reason", run.StatusReason)
}

// publishBlastRadius broadcasts the forensics impact graph when the report
// carries one.
func (e *Engine) publishBlastRadius(runID uuid.UUID, payload map[string]any) {
	graph, ok := payload["blast_radius"].(model.Graph)
	if !ok {
		return
	}
	e.hub.Publish(model.BlastRadiusEvent{
		Type:      model.FeedBlastRadius,
		RunID:     runID,
		Graph:     graph,
		RootCause: stringAt(payload, "root_cause"),
	})
}

func (e *Engine) progress(runID uuid.UUID, a model.AgentName, status, message, severity string) {
	e.hub.Publish(model.NewProgress(runID, a, status, message, severity))
}

func (e *Engine) audit(ctx context.Context, eventType string, payload map[string]any, a model.AgentName) {
	if _, err := e.store.Append(ctx, eventType, payload, a); err != nil {
		e.logger.Error("orchestrator: audit append", "type", eventType, "error", err)
	}
}

func (e *Engine) countRun(ctx context.Context, name string) {
	if counter, err := meter.Int64Counter(name); err == nil {
		counter.Add(ctx, 1)
	}
}

// complianceEventType maps a remediation action to the compliance agent's
// event vocabulary.
func complianceEventType(action string) string {
	switch action {
	case "IAM_REVOKE":
		return "revoked_access"
	case "BLOCK_IP", "NETWORK_BLOCK":
		return "data_exfiltration"
	default:
		return "remediation"
	}
}

// severityFor grades a risk score for progress display.
func severityFor(riskScore float64) string {
	if riskScore >= 0.8 {
		return "critical"
	}
	if riskScore >= 0.6 {
		return "warning"
	}
	return "info"
}

func stringAt(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

func mapAt(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	m, _ := payload[key].(map[string]any)
	return m
}
