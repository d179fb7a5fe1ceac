package model

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a position in the fixed incident-run pipeline.
type Stage string

const (
	StageInit          Stage = "init"
	StageIngest        Stage = "ingest"
	StageDetect        Stage = "detect"
	StageEvaluate      Stage = "evaluate"
	StageAwaitApproval Stage = "await_approval"
	StageInvestigate   Stage = "investigate"
	StageRemediate     Stage = "remediate"
	StageAudit         Stage = "audit"
	StageCompleted     Stage = "completed"
	StageCancelled     Stage = "cancelled"
)

// Terminal reports whether the stage ends the run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

// RunStatus is the terminal outcome of an incident run.
type RunStatus string

const (
	RunStatusActive       RunStatus = "active"
	RunStatusCompleted    RunStatus = "completed"
	RunStatusCancelled    RunStatus = "cancelled"
	RunStatusPolicyDenied RunStatus = "policy_denied"
)

// ApprovalState tracks the human-approval gate within a run.
type ApprovalState string

const (
	ApprovalNotRequired ApprovalState = "not_required"
	ApprovalPending     ApprovalState = "pending"
	ApprovalApproved    ApprovalState = "approved"
	ApprovalCancelled   ApprovalState = "cancelled"
)

// Run is the mutable state of one incident run. It is owned exclusively by
// the orchestrator goroutine driving it; other goroutines interact with a
// run only through its cancellation handle and the approval broker.
type Run struct {
	ID            uuid.UUID     `json:"run_id"`
	CorrelationID uuid.UUID     `json:"correlation_id"`
	SessionID     string        `json:"session_id"`
	Stage         Stage         `json:"stage"`
	Status        RunStatus     `json:"status"`
	StatusReason  string        `json:"status_reason,omitempty"`
	RiskScore     float64       `json:"risk_score"`
	Approval      ApprovalState `json:"approval_state"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`

	// Messages is the append-only replay trail. Insertion order is stage
	// order within the run.
	Messages []Message `json:"messages"`
}

// NewRun creates a fresh run whose correlation id equals its run id.
func NewRun(sessionID string) *Run {
	id := uuid.New()
	return &Run{
		ID:            id,
		CorrelationID: id,
		SessionID:     sessionID,
		Stage:         StageInit,
		Status:        RunStatusActive,
		Approval:      ApprovalNotRequired,
		StartedAt:     time.Now().UTC(),
	}
}

// Append adds a produced message to the run's replay trail.
func (r *Run) Append(m Message) {
	r.Messages = append(r.Messages, m)
}

// stageOrder is the canonical pipeline sequence used to validate
// transitions. Cancelled is reachable from any non-terminal stage and is
// handled separately.
var stageOrder = []Stage{
	StageInit,
	StageIngest,
	StageDetect,
	StageEvaluate,
	StageAwaitApproval,
	StageInvestigate,
	StageRemediate,
	StageAudit,
	StageCompleted,
}

func stageIndex(s Stage) int {
	for i, v := range stageOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether moving from one stage to the next is legal:
// strictly forward through the pipeline (AwaitApproval may be skipped,
// Completed may be entered early), or into Cancelled from any non-terminal
// stage.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageCancelled {
		return true
	}
	fi, ti := stageIndex(from), stageIndex(to)
	if fi < 0 || ti < 0 {
		return false
	}
	if to == StageCompleted {
		return ti > fi
	}
	// Forward by one, or by two when skipping the optional approval stage.
	return ti == fi+1 || (ti == fi+2 && stageOrder[fi+1] == StageAwaitApproval)
}
