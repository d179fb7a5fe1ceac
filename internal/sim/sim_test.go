package sim

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/model"
	"github.com/halcyon-sec/soar/internal/policy"
)

func TestScenarioBankShape(t *testing.T) {
	bank := Scenarios()
	require.Len(t, bank, 3)

	for _, s := range bank {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Action)
		assert.NotEmpty(t, s.Target)
		assert.Greater(t, s.RiskScore, 0.0)
		assert.LessOrEqual(t, s.RiskScore, 1.0)
		assert.NotEmpty(t, s.Graph.Nodes)
		assert.NotEmpty(t, s.Graph.Edges)
		// Every scripted action is destructive enough to hit the
		// approval path when the remote policy is down.
		assert.True(t, policy.IsDestructive(s.Action), s.Action)
	}
}

func TestScenarioEventCarriesProposal(t *testing.T) {
	s := Scenarios()[0]
	event := s.Event()

	assert.Equal(t, s.Action, event["action"])
	assert.Equal(t, s.Target, event["target"])
	assert.Equal(t, s.RiskScore, event["risk_score"])
	assert.Equal(t, s.Graph, event["graph"])
	// The original telemetry keys survive the flattening.
	assert.Equal(t, "ConsoleLogin", event["event"])
}

func TestSourcePollFixed(t *testing.T) {
	s := Scenarios()[1]
	src := NewFixedSource(s)

	ev, err := src.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "sim."+s.Name, ev.Provider)
	assert.Equal(t, s.Action, ev.Data["action"])
}

func TestAnalyzerUsesEmbeddedScore(t *testing.T) {
	a := Analyzer{}

	res, err := a.Analyze(context.Background(), map[string]any{
		"risk_score": 0.95,
		"alert":      "encryption storm",
	})
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.InDelta(t, 0.95, res.RiskScore, 1e-9)
	assert.Equal(t, "encryption storm", res.Reasoning)
}

func TestAnalyzerFallsBackToActionBaseline(t *testing.T) {
	a := Analyzer{}

	res, err := a.Analyze(context.Background(), map[string]any{"action": "LOG_QUERY"})
	require.NoError(t, err)
	assert.False(t, res.Detected)
	assert.InDelta(t, policy.ScoreAction("LOG_QUERY", nil), res.RiskScore, 1e-9)
}

func TestRemediatorCancellation(t *testing.T) {
	r := NewRemediator(slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := r.Execute(ctx, "BLOCK_IP", "203.0.113.42")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestBackgroundPublishesTaggedLines(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(logger, 16)
	feed := h.Subscribe()

	b := NewBackground(h)
	b.minDelay = time.Millisecond
	b.maxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case raw := <-feed:
		var ev model.ProgressEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		assert.True(t, ev.IsBackground)
		assert.Equal(t, model.AgentTelemetry, ev.Agent)
		assert.Equal(t, "low", ev.Severity)
	case <-time.After(time.Second):
		t.Fatal("no background line published")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
