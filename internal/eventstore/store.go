// Package eventstore implements the append-only audit sink for incident
// runs. Records are immutable once appended; Recent reads never mutate the
// log. Several backends implement the same Store contract: an in-memory
// log, a JSONL file, SQLite, and Postgres.
package eventstore

import (
	"context"
	"errors"

	"github.com/halcyon-sec/soar/internal/model"
)

// ErrClosed is returned when appending to or reading from a closed store.
var ErrClosed = errors.New("eventstore: store is closed")

// Store is the audit sink consumed by agents and the orchestrator.
// Implementations must serialize appends relative to each other and must
// be safe for concurrent use.
type Store interface {
	// Append writes one immutable record and returns it with its assigned
	// id, timestamp, and content hash.
	Append(ctx context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error)

	// Recent returns up to limit records, most recent first. Repeated calls
	// are idempotent; reads have no side effects.
	Recent(ctx context.Context, limit int) ([]model.AuditRecord, error)

	// Close releases backend resources.
	Close() error
}

const defaultRecentLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return limit
}
