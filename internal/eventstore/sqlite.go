package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/halcyon-sec/soar/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	timestamp    TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	agent        TEXT NOT NULL,
	payload      TEXT NOT NULL,
	content_hash TEXT NOT NULL
);
`

// SQLite is a Store backed by a local SQLite database (pure-Go driver, no
// cgo). Suitable for single-node deployments that need a durable trail.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite store at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// appends; audit volume does not need write parallelism.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventstore: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append implements Store.
func (s *SQLite) Append(ctx context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error) {
	rec := newRecord(eventType, payload, agent)
	raw, err := json.Marshal(rec.Payload)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("eventstore: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, timestamp, event_type, agent, payload, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Timestamp.Format(time.RFC3339Nano), rec.Type, string(rec.Agent), string(raw), rec.ContentHash,
	)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("eventstore: insert record: %w", err)
	}
	return rec, nil
}

// Recent implements Store: most recent first by insertion order.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, event_type, agent, payload, content_hash
		 FROM audit_records ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query recent: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var (
			idStr, tsStr, eventType, agent, payloadStr, hash string
		)
		if err := rows.Scan(&idStr, &tsStr, &eventType, &agent, &payloadStr, &hash); err != nil {
			return nil, fmt.Errorf("eventstore: scan record: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("eventstore: parse record id: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("eventstore: parse record timestamp: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return nil, fmt.Errorf("eventstore: unmarshal payload: %w", err)
		}
		out = append(out, model.AuditRecord{
			ID:          id,
			Timestamp:   ts,
			Type:        eventType,
			Agent:       model.AgentName(agent),
			Payload:     payload,
			ContentHash: hash,
		})
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
