package model

import (
	"time"

	"github.com/google/uuid"
)

// Feed event type tags. Every event published to the hub carries one so
// subscribers can dispatch without sniffing field sets.
const (
	FeedProgress         = "progress"
	FeedApprovalRequired = "APPROVAL_REQUIRED"
	FeedBlastRadius      = "BLAST_RADIUS_UPDATE"
	FeedRunEnded         = "RUN_ENDED"
)

// ProgressEvent is the observational record emitted before and after each
// pipeline stage. It never affects control flow.
type ProgressEvent struct {
	Type         string    `json:"type"`
	ID           uuid.UUID `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	RunID        uuid.UUID `json:"run_id,omitempty"`
	Agent        AgentName `json:"agent"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	Severity     string    `json:"severity"`
	IsBackground bool      `json:"is_background,omitempty"`
}

// NewProgress builds a progress event with a fresh id and UTC timestamp.
func NewProgress(runID uuid.UUID, agent AgentName, status, message, severity string) ProgressEvent {
	return ProgressEvent{
		Type:      FeedProgress,
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Agent:     agent,
		Status:    status,
		Message:   message,
		Severity:  severity,
	}
}

// ApprovalRequiredEvent asks a human operator to authorize a proposed
// action. The run suspends until the approval broker is signalled.
type ApprovalRequiredEvent struct {
	Type      string    `json:"type"`
	RunID     uuid.UUID `json:"run_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	RiskScore float64   `json:"risk_score"`
}

// GraphNode is one entity in a blast-radius graph.
type GraphNode struct {
	ID    string `json:"id"`
	Kind  string `json:"type"`
	Label string `json:"label"`
	Risk  string `json:"risk"`
}

// GraphEdge is one causal link in a blast-radius graph.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Graph is the set of entities causally connected to an incident.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BlastRadiusEvent publishes the forensics impact graph to observers.
type BlastRadiusEvent struct {
	Type      string    `json:"type"`
	RunID     uuid.UUID `json:"run_id"`
	Graph     Graph     `json:"graph"`
	RootCause string    `json:"root_cause"`
}

// RunEndedEvent reports the terminal status of a run, distinguishing
// completed, cancelled-by-operator, and blocked-by-policy.
type RunEndedEvent struct {
	Type   string    `json:"type"`
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}
