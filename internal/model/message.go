// Package model defines the core domain types for soar: inter-agent
// messages, incident runs, audit records, and the events published to
// feed subscribers.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible. Message payloads stay an open map because their keys
// differ per message kind; each agent documents the keys it reads.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind categorizes an inter-agent message.
type Kind string

const (
	KindAlert    Kind = "alert"
	KindCommand  Kind = "command"
	KindQuery    Kind = "query"
	KindResponse Kind = "response"
	KindLog      Kind = "log"
	KindReport   Kind = "report"
)

// ValidKind reports whether k is one of the defined message kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindAlert, KindCommand, KindQuery, KindResponse, KindLog, KindReport:
		return true
	}
	return false
}

// Priority orders messages by urgency. Informational only; delivery order
// within a run is always stage order.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// String returns the lowercase label for the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// AgentName identifies a pipeline participant. Messages are routed on
// (Kind, Target) pairs, never on free-form strings.
type AgentName string

const (
	AgentSystem     AgentName = "system"
	AgentTelemetry  AgentName = "telemetry"
	AgentDetection  AgentName = "detection"
	AgentSupervisor AgentName = "supervisor"
	AgentForensics  AgentName = "forensics"
	AgentResponse   AgentName = "response"
	AgentCompliance AgentName = "compliance"
)

// SecurityContext scopes a message to a tenant and carries the risk score
// attached at detection time.
type SecurityContext struct {
	TenantID   string  `json:"tenant_id"`
	ResourceID string  `json:"resource_id,omitempty"`
	RiskScore  float64 `json:"risk_score"`
}

// Message is the immutable unit of inter-agent communication. Construct
// with NewMessage; derive follow-ups with Derive so the correlation id is
// carried forward. Once constructed a Message is never mutated: callers
// hand over ownership of the payload map and must not write to it after.
type Message struct {
	ID            uuid.UUID        `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Kind          Kind             `json:"kind"`
	Source        AgentName        `json:"source_agent"`
	Target        AgentName        `json:"target_agent,omitempty"`
	Payload       map[string]any   `json:"payload"`
	Priority      Priority         `json:"priority"`
	Security      *SecurityContext `json:"security_context,omitempty"`
	CorrelationID uuid.UUID        `json:"correlation_id,omitempty"`
}

// MessageOption customizes optional Message fields at construction.
type MessageOption func(*Message)

// WithTarget addresses the message to a specific agent.
func WithTarget(t AgentName) MessageOption {
	return func(m *Message) { m.Target = t }
}

// WithPriority overrides the default (Low) priority.
func WithPriority(p Priority) MessageOption {
	return func(m *Message) { m.Priority = p }
}

// WithCorrelation threads the message into an existing incident run.
func WithCorrelation(id uuid.UUID) MessageOption {
	return func(m *Message) { m.CorrelationID = id }
}

// WithSecurity attaches a security context.
func WithSecurity(sc SecurityContext) MessageOption {
	return func(m *Message) { m.Security = &sc }
}

// NewMessage constructs a Message with a fresh id and UTC timestamp.
func NewMessage(kind Kind, source AgentName, payload map[string]any, opts ...MessageOption) Message {
	m := Message{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Source:    source,
		Payload:   payload,
		Priority:  PriorityLow,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Derive constructs a new Message that belongs to the same incident run as
// m: the correlation anchor is copied forward, everything else is fresh.
func (m Message) Derive(kind Kind, source AgentName, payload map[string]any, opts ...MessageOption) Message {
	out := NewMessage(kind, source, payload, opts...)
	out.CorrelationID = m.Correlation()
	return out
}

// Correlation returns the id grouping all messages of one incident run.
// A message without an explicit correlation id anchors the run itself.
func (m Message) Correlation() uuid.UUID {
	if m.CorrelationID != uuid.Nil {
		return m.CorrelationID
	}
	return m.ID
}

// AddressedTo reports whether a targeted message is for the named agent.
// Untargeted messages are addressed to everyone.
func (m Message) AddressedTo(name AgentName) bool {
	return m.Target == "" || m.Target == name
}
