package policy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func policyServer(t *testing.T, allow bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, decidePath, r.URL.Path)

		var body decideRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body.Input.Action.Type)

		json.NewEncoder(w).Encode(decideResponse{Result: allow})
	}))
}

func TestClientDecideAllow(t *testing.T) {
	srv := policyServer(t, true)
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	allow, err := c.Decide(context.Background(), DecisionInput{
		Action:    "IAM_REVOKE",
		RiskScore: 0.85,
		Agent:     string(model.AgentResponse),
		User:      "admin-user",
		Resource:  "arn:aws:iam::123456789012:user/admin-user",
	})
	require.NoError(t, err)
	assert.True(t, allow)
}

func TestClientDecideDeny(t *testing.T) {
	srv := policyServer(t, false)
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	allow, err := c.Decide(context.Background(), DecisionInput{Action: "BLOCK_IP"})
	require.NoError(t, err)
	assert.False(t, allow)
}

func TestClientUnavailableOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	_, err := c.Decide(context.Background(), DecisionInput{Action: "IAM_REVOKE"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClientUnavailableOnTimeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c := NewClient(srv.URL, 50*time.Millisecond)
	_, err := c.Decide(context.Background(), DecisionInput{Action: "IAM_REVOKE"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestClientUnavailableOnConnRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Decide(context.Background(), DecisionInput{Action: "IAM_REVOKE"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGateRemoteAllow(t *testing.T) {
	srv := policyServer(t, true)
	defer srv.Close()

	store := eventstore.NewMemory()
	g := NewGate(NewClient(srv.URL, time.Second), store, discardLogger(), false)

	d := g.Evaluate(context.Background(), ActionRequest{
		Action:      "IAM_REVOKE",
		Target:      "admin-user",
		Agent:       model.AgentResponse,
		Destructive: true,
	}, 0.85)

	assert.True(t, d.Allow)
	assert.False(t, d.RequiresApproval)
	assert.Equal(t, SourceRemote, d.Source)
}

func TestGateRemoteDeny(t *testing.T) {
	srv := policyServer(t, false)
	defer srv.Close()

	store := eventstore.NewMemory()
	g := NewGate(NewClient(srv.URL, time.Second), store, discardLogger(), false)

	d := g.Evaluate(context.Background(), ActionRequest{
		Action:      "BLOCK_IP",
		Destructive: true,
	}, 0.75)

	assert.False(t, d.Allow)
	assert.Equal(t, SourceRemote, d.Source)
	assert.Equal(t, "policy denied", d.Reason)
}

func TestGateFallbackRequiresApproval(t *testing.T) {
	store := eventstore.NewMemory()
	g := NewGate(NewClient("http://127.0.0.1:1", 100*time.Millisecond), store, discardLogger(), false)

	d := g.Evaluate(context.Background(), ActionRequest{
		Action:      "IAM_REVOKE",
		Destructive: true,
	}, 0.85)

	assert.True(t, d.Allow)
	assert.True(t, d.RequiresApproval)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestGateFallbackAllowsLowRisk(t *testing.T) {
	store := eventstore.NewMemory()
	g := NewGate(nil, store, discardLogger(), false)

	d := g.Evaluate(context.Background(), ActionRequest{
		Action:      "ALERT_CREATE",
		Destructive: false,
	}, 0.4)

	assert.True(t, d.Allow)
	assert.False(t, d.RequiresApproval)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestGateFallbackAllowsDestructiveAtThreshold(t *testing.T) {
	store := eventstore.NewMemory()
	g := NewGate(nil, store, discardLogger(), false)

	// Exactly at the threshold the approval rule does not fire.
	d := g.Evaluate(context.Background(), ActionRequest{
		Action:      "K8S_ISOLATE",
		Destructive: true,
	}, 0.7)

	assert.True(t, d.Allow)
	assert.False(t, d.RequiresApproval)
}

func TestGateFailClosed(t *testing.T) {
	store := eventstore.NewMemory()
	g := NewGate(nil, store, discardLogger(), true)

	d := g.Evaluate(context.Background(), ActionRequest{
		Action:      "ALERT_CREATE",
		Destructive: false,
	}, 0.1)

	assert.False(t, d.Allow)
	assert.Equal(t, SourceFallback, d.Source)
}

func TestGateAuditsEveryDecision(t *testing.T) {
	store := eventstore.NewMemory()
	g := NewGate(nil, store, discardLogger(), false)

	g.Evaluate(context.Background(), ActionRequest{
		Action:      "IAM_REVOKE",
		Target:      "admin-user",
		Agent:       model.AgentResponse,
		Destructive: true,
	}, 0.85)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.AuditPolicyDecision, recs[0].Type)
	assert.Equal(t, "IAM_REVOKE", recs[0].Payload["action"])
	assert.Equal(t, true, recs[0].Payload["requires_approval"])
	assert.Equal(t, SourceFallback, recs[0].Payload["source"])
}

func TestIsDestructive(t *testing.T) {
	assert.True(t, IsDestructive("IAM_REVOKE"))
	assert.True(t, IsDestructive("BLOCK_IP"))
	assert.False(t, IsDestructive("LOG_QUERY"))
	assert.False(t, IsDestructive("SOMETHING_NEW"))
}

func TestScoreAction(t *testing.T) {
	assert.InDelta(t, 0.8, ScoreAction("IAM_REVOKE", nil), 1e-9)
	assert.InDelta(t, 0.5, ScoreAction("UNKNOWN_ACTION", nil), 1e-9)

	score := ScoreAction("K8S_TERMINATE", map[string]any{
		"production_environment":     true,
		"affects_multiple_resources": true,
		"irreversible":               true,
	})
	assert.InDelta(t, 1.0, score, 1e-9)
}
