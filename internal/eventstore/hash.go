package eventstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-sec/soar/internal/model"
)

// Hash version prefix. Length-prefixed field encoding avoids delimiter
// collisions when payload text contains separator characters.
const hashV1Prefix = "v1:"

// ComputeContentHash produces a versioned SHA-256 hex digest over the
// canonical record fields. The payload is serialized as JSON, which sorts
// map keys, so the digest is deterministic for a given payload.
func ComputeContentHash(id uuid.UUID, ts time.Time, eventType string, agent model.AgentName, payload map[string]any) string {
	h := sha256.New()
	writeField := func(b []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	writeField([]byte(id.String()))
	writeField([]byte(ts.UTC().Format(time.RFC3339Nano)))
	writeField([]byte(eventType))
	writeField([]byte(agent))
	// Marshal errors (unsupported payload values) degrade to an empty
	// payload field rather than failing the append.
	raw, _ := json.Marshal(payload)
	writeField(raw)
	return hashV1Prefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyContentHash checks whether a stored hash matches the recomputed one.
func VerifyContentHash(rec model.AuditRecord) bool {
	return rec.ContentHash == ComputeContentHash(rec.ID, rec.Timestamp, rec.Type, rec.Agent, rec.Payload)
}

// newRecord stamps a fresh audit record with id, timestamp, and hash.
func newRecord(eventType string, payload map[string]any, agent model.AgentName) model.AuditRecord {
	id := uuid.New()
	// Microsecond precision survives a round trip through every backend,
	// including Postgres TIMESTAMPTZ, so stored hashes stay verifiable.
	ts := time.Now().UTC().Truncate(time.Microsecond)
	return model.AuditRecord{
		ID:          id,
		Timestamp:   ts,
		Type:        eventType,
		Agent:       agent,
		Payload:     payload,
		ContentHash: ComputeContentHash(id, ts, eventType, agent, payload),
	}
}
