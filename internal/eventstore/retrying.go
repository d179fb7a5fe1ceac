package eventstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/halcyon-sec/soar/internal/model"
)

// Retrying wraps a Store and retries failed appends once after a short
// backoff. Audit durability degrades gracefully: a persistent write failure
// is logged and reported to the caller, but callers are expected to carry
// on: a broken audit backend must not halt incident response.
type Retrying struct {
	inner   Store
	logger  *slog.Logger
	backoff time.Duration
}

// NewRetrying wraps inner with one-retry append semantics.
func NewRetrying(inner Store, logger *slog.Logger) *Retrying {
	return &Retrying{inner: inner, logger: logger, backoff: 50 * time.Millisecond}
}

// Append implements Store with a single retry on failure.
func (s *Retrying) Append(ctx context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error) {
	rec, err := s.inner.Append(ctx, eventType, payload, agent)
	if err == nil {
		return rec, nil
	}

	s.logger.Warn("audit append failed, retrying once",
		"event_type", eventType, "agent", agent, "error", err)

	select {
	case <-ctx.Done():
		return model.AuditRecord{}, ctx.Err()
	case <-time.After(s.backoff):
	}

	rec, err = s.inner.Append(ctx, eventType, payload, agent)
	if err != nil {
		s.logger.Error("audit append failed after retry, dropping record",
			"event_type", eventType, "agent", agent, "error", err)
		return model.AuditRecord{}, err
	}
	return rec, nil
}

// Recent implements Store.
func (s *Retrying) Recent(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	return s.inner.Recent(ctx, limit)
}

// Close implements Store.
func (s *Retrying) Close() error {
	return s.inner.Close()
}
