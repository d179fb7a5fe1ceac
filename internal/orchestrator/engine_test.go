package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/soar/internal/agent"
	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/model"
	"github.com/halcyon-sec/soar/internal/policy"
)

type stubSource struct {
	event map[string]any
}

func (s stubSource) Poll(ctx context.Context) (*agent.TelemetryEvent, error) {
	if s.event == nil {
		return nil, nil
	}
	return &agent.TelemetryEvent{Provider: "aws.cloudtrail", Data: s.event}, nil
}

type stubAnalyzer struct {
	analysis agent.Analysis
	err      error
	panics   bool
}

func (s stubAnalyzer) Analyze(ctx context.Context, event map[string]any) (agent.Analysis, error) {
	if s.panics {
		panic("analyzer blew up")
	}
	return s.analysis, s.err
}

type stubRemediator struct {
	ok       bool
	executed *atomic.Bool
}

func (s stubRemediator) Execute(ctx context.Context, actionType, target string) (bool, error) {
	if s.executed != nil {
		s.executed.Store(true)
	}
	return s.ok, nil
}

type stubPolicy struct {
	allow bool
	err   error
}

func (s stubPolicy) Decide(ctx context.Context, input policy.DecisionInput) (bool, error) {
	return s.allow, s.err
}

type fixtureOpts struct {
	remote          policy.Service
	event           map[string]any
	analysis        agent.Analysis
	analyzerPanics  bool
	remediateOK     bool
	executed        *atomic.Bool
	approvalTimeout time.Duration
}

type fixture struct {
	engine *Engine
	store  *eventstore.Memory
	hub    *hub.Hub
	broker *Broker
	feed   chan []byte
}

func escalationEvent() map[string]any {
	return map[string]any{
		"eventName": "AttachUserPolicy",
		"action":    "IAM_REVOKE",
		"target":    "admin-user",
		"user":      "admin-user",
		"ip":        "203.0.113.42",
	}
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := eventstore.NewMemory()
	t.Cleanup(func() { store.Close() })
	h := hub.New(logger, 256)
	broker := NewBroker()

	engine := New(Config{
		Agents: Agents{
			Telemetry:  agent.NewTelemetry(stubSource{event: opts.event}, store, logger),
			Detection:  agent.NewDetection(stubAnalyzer{analysis: opts.analysis, panics: opts.analyzerPanics}, store, logger),
			Supervisor: agent.NewSupervisor(store, logger),
			Forensics:  agent.NewForensics(store, logger),
			Response:   agent.NewResponse(stubRemediator{ok: opts.remediateOK, executed: opts.executed}, store, logger),
			Compliance: agent.NewCompliance(store, logger),
		},
		Gate:            policy.NewGate(opts.remote, store, logger, false),
		Store:           store,
		Hub:             h,
		Broker:          broker,
		Logger:          logger,
		ApprovalTimeout: opts.approvalTimeout,
	})

	return &fixture{
		engine: engine,
		store:  store,
		hub:    h,
		broker: broker,
		feed:   h.Subscribe(),
	}
}

func (f *fixture) start(t *testing.T) *Handle {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHandle(model.NewRun("sess-1"), cancel)
	go f.engine.Execute(ctx, h)
	return h
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
}

// drainFeed decodes everything buffered on the feed channel.
func (f *fixture) drainFeed(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case raw := <-f.feed:
			var ev map[string]any
			require.NoError(t, json.Unmarshal(raw, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

// waitForApprovalRequest blocks until the approval request appears on the
// feed, returning any other events read along the way.
func (f *fixture) waitForApprovalRequest(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case raw := <-f.feed:
			var ev map[string]any
			require.NoError(t, json.Unmarshal(raw, &ev))
			if ev["type"] == model.FeedApprovalRequired {
				return
			}
		case <-deadline:
			t.Fatal("approval request never published")
		}
	}
}

func feedOfType(events []map[string]any, typ string) []map[string]any {
	var out []map[string]any
	for _, ev := range events {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func auditTypes(t *testing.T, store *eventstore.Memory) []string {
	t.Helper()
	recs, err := store.Recent(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(recs))
	// Recent is most-recent-first; reverse into append order.
	for i := len(recs) - 1; i >= 0; i-- {
		types = append(types, recs[i].Type)
	}
	return types
}

func TestRunCompletesFullPipeline(t *testing.T) {
	// Remote allows, so the approval stage is skipped even though the
	// action is destructive.
	f := newFixture(t, fixtureOpts{
		remote:      stubPolicy{allow: true},
		event:       escalationEvent(),
		analysis:    agent.Analysis{Detected: true, RiskScore: 0.4, Reasoning: "Privilege escalation attempt"},
		remediateOK: true,
	})

	h := f.start(t)
	waitDone(t, h)

	assert.Equal(t, model.StageCompleted, h.Run.Stage)
	assert.Equal(t, model.RunStatusCompleted, h.Run.Status)
	assert.Equal(t, model.ApprovalNotRequired, h.Run.Approval)
	assert.NotNil(t, h.Run.EndedAt)
	assert.InDelta(t, 0.4, h.Run.RiskScore, 1e-9)

	types := auditTypes(t, f.store)
	assert.Equal(t, []string{
		model.AuditRunStarted,
		model.AuditLogIngestion,
		model.AuditThreatDetected,
		model.AuditPolicyDecision,
		model.AuditIncidentRecorded,
		model.AuditForensicsStarted,
		model.AuditForensicsComplete,
		model.AuditRemediationExecuted,
		model.AuditComplianceFinding,
		model.AuditRunEnded,
	}, types)

	events := f.drainFeed(t)
	assert.Empty(t, feedOfType(events, model.FeedApprovalRequired))
	require.Len(t, feedOfType(events, model.FeedBlastRadius), 1)
	ended := feedOfType(events, model.FeedRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, string(model.RunStatusCompleted), ended[0]["status"])
}

func TestRunMessagesShareCorrelation(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		remote:      stubPolicy{allow: true},
		event:       escalationEvent(),
		analysis:    agent.Analysis{Detected: true, RiskScore: 0.4, Reasoning: "test"},
		remediateOK: true,
	})

	h := f.start(t)
	waitDone(t, h)

	require.NotEmpty(t, h.Run.Messages)
	for _, m := range h.Run.Messages {
		assert.Equal(t, h.Run.CorrelationID, m.Correlation())
	}
}

func TestRunEndsEarlyWithoutEvents(t *testing.T) {
	f := newFixture(t, fixtureOpts{remote: stubPolicy{allow: true}})

	h := f.start(t)
	waitDone(t, h)

	assert.Equal(t, model.StageCompleted, h.Run.Stage)
	assert.Equal(t, model.RunStatusCompleted, h.Run.Status)
	assert.Equal(t, reasonNoEvents, h.Run.StatusReason)

	types := auditTypes(t, f.store)
	assert.NotContains(t, types, model.AuditThreatDetected)
	assert.NotContains(t, types, model.AuditRemediationExecuted)
}

func TestRunEndsEarlyOnBenignEvent(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		remote:   stubPolicy{allow: true},
		event:    escalationEvent(),
		analysis: agent.Analysis{Detected: false},
	})

	h := f.start(t)
	waitDone(t, h)

	assert.Equal(t, model.StageCompleted, h.Run.Stage)
	assert.Equal(t, reasonNoThreat, h.Run.StatusReason)
	assert.NotContains(t, auditTypes(t, f.store), model.AuditIncidentRecorded)
}

func TestRunPolicyDenied(t *testing.T) {
	var executed atomic.Bool
	f := newFixture(t, fixtureOpts{
		remote:   stubPolicy{allow: false},
		event:    escalationEvent(),
		analysis: agent.Analysis{Detected: true, RiskScore: 0.85, Reasoning: "test"},
		executed: &executed,
	})

	h := f.start(t)
	waitDone(t, h)

	assert.Equal(t, model.StageCancelled, h.Run.Stage)
	assert.Equal(t, model.RunStatusPolicyDenied, h.Run.Status)
	assert.Equal(t, reasonPolicyDenied, h.Run.StatusReason)
	assert.False(t, executed.Load(), "remediation must not run after a policy denial")

	ended := feedOfType(f.drainFeed(t), model.FeedRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, string(model.RunStatusPolicyDenied), ended[0]["status"])
}

func TestRunApprovalFlow(t *testing.T) {
	// Remote unreachable, destructive, high risk: the local fallback
	// demands approval and the run suspends until signalled.
	f := newFixture(t, fixtureOpts{
		remote:      stubPolicy{err: errors.New("connection refused")},
		event:       escalationEvent(),
		analysis:    agent.Analysis{Detected: true, RiskScore: 0.85, Reasoning: "test"},
		remediateOK: true,
	})

	h := f.start(t)
	f.waitForApprovalRequest(t)

	f.broker.Signal(h.RunID())
	waitDone(t, h)

	assert.Equal(t, model.StageCompleted, h.Run.Stage)
	assert.Equal(t, model.RunStatusCompleted, h.Run.Status)
	assert.Equal(t, model.ApprovalApproved, h.Run.Approval)
	assert.Contains(t, auditTypes(t, f.store), model.AuditRemediationExecuted)
}

func TestCancelDuringApprovalNeverRemediates(t *testing.T) {
	var executed atomic.Bool
	f := newFixture(t, fixtureOpts{
		remote:   stubPolicy{err: errors.New("connection refused")},
		event:    escalationEvent(),
		analysis: agent.Analysis{Detected: true, RiskScore: 0.85, Reasoning: "test"},
		executed: &executed,
	})

	h := f.start(t)
	f.waitForApprovalRequest(t)

	require.True(t, h.Cancel(reasonCancelled))
	waitDone(t, h)

	assert.Equal(t, model.StageCancelled, h.Run.Stage)
	assert.Equal(t, model.RunStatusCancelled, h.Run.Status)
	assert.Equal(t, model.ApprovalCancelled, h.Run.Approval)
	assert.False(t, executed.Load(), "remediation must not run after cancellation")

	// A late signal for the dead run is a no-op.
	f.broker.Signal(h.RunID())
}

func TestApprovalTimeoutCancelsRun(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		remote:          stubPolicy{err: errors.New("connection refused")},
		event:           escalationEvent(),
		analysis:        agent.Analysis{Detected: true, RiskScore: 0.85, Reasoning: "test"},
		approvalTimeout: 50 * time.Millisecond,
	})

	h := f.start(t)
	waitDone(t, h)

	assert.Equal(t, model.StageCancelled, h.Run.Stage)
	assert.Equal(t, reasonApprovalTimeout, h.Run.StatusReason)
}

func TestAnalyzerPanicIsolated(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		remote:         stubPolicy{allow: true},
		event:          escalationEvent(),
		analyzerPanics: true,
	})

	h := f.start(t)
	waitDone(t, h)

	// The faulted stage produced no output; the run still terminates
	// cleanly instead of aborting.
	assert.Equal(t, model.StageCompleted, h.Run.Stage)
	assert.Contains(t, auditTypes(t, f.store), model.AuditAgentFailure)
}

func TestRemediationFailureStillAudits(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		remote:      stubPolicy{allow: true},
		event:       escalationEvent(),
		analysis:    agent.Analysis{Detected: true, RiskScore: 0.85, Reasoning: "test"},
		remediateOK: false,
	})

	h := f.start(t)
	waitDone(t, h)

	// A failed remediation is reported but does not block compliance.
	assert.Equal(t, model.StageCompleted, h.Run.Stage)
	types := auditTypes(t, f.store)
	assert.Contains(t, types, model.AuditRemediationExecuted)
	assert.Contains(t, types, model.AuditComplianceFinding)
}

func TestProgressEventsFollowStageOrder(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		remote:      stubPolicy{allow: true},
		event:       escalationEvent(),
		analysis:    agent.Analysis{Detected: true, RiskScore: 0.4, Reasoning: "test"},
		remediateOK: true,
	})

	h := f.start(t)
	waitDone(t, h)

	stageRank := map[string]int{
		string(model.AgentSystem):     0,
		string(model.AgentTelemetry):  1,
		string(model.AgentDetection):  2,
		string(model.AgentSupervisor): 3,
		string(model.AgentForensics):  4,
		string(model.AgentResponse):   5,
		string(model.AgentCompliance): 6,
	}

	last := 0
	for _, ev := range feedOfType(f.drainFeed(t), model.FeedProgress) {
		rank, ok := stageRank[ev["agent"].(string)]
		require.True(t, ok)
		assert.GreaterOrEqual(t, rank, last, "progress events must follow stage order")
		last = rank
	}
}
