package eventstore

import (
	"context"
	"sync"

	"github.com/halcyon-sec/soar/internal/model"
)

// Memory is an in-process Store. The default backend for tests and for
// deployments that accept losing the audit trail on restart.
type Memory struct {
	mu      sync.Mutex
	records []model.AuditRecord
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Store.
func (s *Memory) Append(_ context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error) {
	rec := newRecord(eventType, payload, agent)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.AuditRecord{}, ErrClosed
	}
	s.records = append(s.records, rec)
	return rec, nil
}

// Recent implements Store: most recent first.
func (s *Memory) Recent(_ context.Context, limit int) ([]model.AuditRecord, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.records)
	if limit > n {
		limit = n
	}
	out := make([]model.AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Len returns the number of records appended so far.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements Store.
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
