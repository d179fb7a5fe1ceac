package eventstore_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// flakyStore fails the first failures appends, then delegates to Memory.
type flakyStore struct {
	*eventstore.Memory
	failures int
}

func (s *flakyStore) Append(ctx context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error) {
	if s.failures > 0 {
		s.failures--
		return model.AuditRecord{}, errors.New("backend unavailable")
	}
	return s.Memory.Append(ctx, eventType, payload, agent)
}

func TestRetryingRecoversFromOneFailure(t *testing.T) {
	inner := &flakyStore{Memory: eventstore.NewMemory(), failures: 1}
	store := eventstore.NewRetrying(inner, testLogger())

	rec, err := store.Append(context.Background(), "threat_detected",
		map[string]any{"risk_score": 0.85}, model.AgentDetection)
	require.NoError(t, err)
	assert.Equal(t, "threat_detected", rec.Type)
	assert.Equal(t, 1, inner.Len())
}

func TestRetryingGivesUpAfterSecondFailure(t *testing.T) {
	inner := &flakyStore{Memory: eventstore.NewMemory(), failures: 2}
	store := eventstore.NewRetrying(inner, testLogger())

	_, err := store.Append(context.Background(), "threat_detected", nil, model.AgentDetection)
	require.Error(t, err)
	assert.Equal(t, 0, inner.Len())

	// The store keeps working for later appends.
	_, err = store.Append(context.Background(), "remediation_executed", nil, model.AgentResponse)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Len())
}

func TestRetryingRespectsContextCancellation(t *testing.T) {
	inner := &flakyStore{Memory: eventstore.NewMemory(), failures: 10}
	store := eventstore.NewRetrying(inner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Append(ctx, "e", nil, model.AgentSystem)
	assert.ErrorIs(t, err, context.Canceled)
}
