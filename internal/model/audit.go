package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one entry in the append-only audit log. Records are never
// mutated or deleted; ContentHash makes after-the-fact edits detectable.
type AuditRecord struct {
	ID          uuid.UUID      `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Agent       AgentName      `json:"agent"`
	Payload     map[string]any `json:"payload"`
	ContentHash string         `json:"content_hash,omitempty"`
}

// Audit event types written by the pipeline. Agents may write additional
// free-form types; these are the ones the engine itself relies on.
const (
	AuditLogIngestion         = "log_ingestion"
	AuditThreatDetected       = "threat_detected"
	AuditIncidentRecorded     = "incident_recorded"
	AuditPolicyDecision       = "policy_decision"
	AuditForensicsStarted     = "forensics_started"
	AuditForensicsComplete    = "forensics_complete"
	AuditRemediationExecuted  = "remediation_executed"
	AuditComplianceFinding    = "compliance_finding"
	AuditAgentFailure         = "agent_failure"
	AuditRunStarted           = "run_started"
	AuditRunEnded             = "run_ended"
)
