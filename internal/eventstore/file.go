package eventstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/halcyon-sec/soar/internal/model"
)

// File is a JSONL-backed Store: one JSON record per line, append-only.
// Reads scan the file on demand; this backend targets small single-node
// deployments, not high-volume audit traffic.
type File struct {
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewFile opens (creating if needed) a JSONL store at path.
func NewFile(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventstore: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

// Append implements Store. The write lock serializes appends so records
// never interleave.
func (s *File) Append(_ context.Context, eventType string, payload map[string]any, agent model.AgentName) (model.AuditRecord, error) {
	rec := newRecord(eventType, payload, agent)
	line, err := json.Marshal(rec)
	if err != nil {
		return model.AuditRecord{}, fmt.Errorf("eventstore: marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.AuditRecord{}, ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return model.AuditRecord{}, fmt.Errorf("eventstore: append: %w", err)
	}
	return rec, nil
}

// Recent implements Store: scans the file and returns the last records in
// reverse chronological order.
func (s *File) Recent(_ context.Context, limit int) ([]model.AuditRecord, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	rf, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventstore: open for read: %w", err)
	}
	defer rf.Close()

	// Ring of the last `limit` lines.
	tail := make([]model.AuditRecord, 0, limit)
	scanner := bufio.NewScanner(rf)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			// A torn final line from a crashed writer is skipped, not fatal.
			continue
		}
		if len(tail) == limit {
			copy(tail, tail[1:])
			tail = tail[:limit-1]
		}
		tail = append(tail, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventstore: scan: %w", err)
	}

	// Reverse: most recent first.
	out := make([]model.AuditRecord, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		out = append(out, tail[i])
	}
	return out, nil
}

// Close implements Store.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
