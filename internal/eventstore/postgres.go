package eventstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/halcyon-sec/soar/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	seq          BIGSERIAL PRIMARY KEY,
	id           UUID NOT NULL UNIQUE,
	timestamp    TIMESTAMPTZ NOT NULL,
	event_type   TEXT NOT NULL,
	agent        TEXT NOT NULL,
	payload      JSONB NOT NULL,
	content_hash TEXT NOT NULL
)`

// Postgres is a Store backed by a Postgres connection pool, for deployments
// where the audit trail is shared across instances.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and ensures the audit schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("eventstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append implements Store.
func (s *Postgres) Append(ctx context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error) {
	rec := newRecord(eventType, payload, agent)
	raw, err := json.Marshal(rec.Payload)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("eventstore: marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, timestamp, event_type, agent, payload, content_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Timestamp, rec.Type, string(rec.Agent), raw, rec.ContentHash,
	)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("eventstore: insert record: %w", err)
	}
	return rec, nil
}

// Recent implements Store: most recent first by insertion order.
func (s *Postgres) Recent(ctx context.Context, limit int) ([]model.AuditRecord, error) {
	limit = clampLimit(limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, event_type, agent, payload, content_hash
		 FROM audit_records ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query recent: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var (
			id      uuid.UUID
			rec     model.AuditRecord
			agent   string
			rawJSON []byte
		)
		if err := rows.Scan(&id, &rec.Timestamp, &rec.Type, &agent, &rawJSON, &rec.ContentHash); err != nil {
			return nil, fmt.Errorf("eventstore: scan record: %w", err)
		}
		rec.ID = id
		rec.Agent = model.AgentName(agent)
		if err := json.Unmarshal(rawJSON, &rec.Payload); err != nil {
			return nil, fmt.Errorf("eventstore: unmarshal payload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
