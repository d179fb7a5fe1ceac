// Package sim provides simulated implementations of the engine's external
// ports: a telemetry source backed by a scenario bank, a risk analyzer, a
// remediator, and a background feed of benign telemetry lines. It exists so
// the service runs end to end without real cloud integrations.
package sim

import (
	"math/rand/v2"

	"github.com/halcyon-sec/soar/internal/model"
)

// Scenario is one scripted attack: the raw telemetry that triggers it, the
// detection verdict, the proposed remediation, and the blast-radius graph
// forensics will report.
type Scenario struct {
	Name      string
	Alert     string
	RiskScore float64
	Action    string
	Target    string
	User      string
	Telemetry map[string]any
	Graph     model.Graph
}

// Scenarios returns the scripted attack bank.
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:      "IAM Privilege Escalation",
			Alert:     "Suspicious ConsoleLogin detected (Brute Force)",
			RiskScore: 0.85,
			Action:    "IAM_REVOKE",
			Target:    "admin-user",
			User:      "admin",
			Telemetry: map[string]any{
				"event": "ConsoleLogin",
				"user":  "admin",
				"ip":    "192.168.1.50",
			},
			Graph: model.Graph{
				Nodes: []model.GraphNode{
					{ID: "attacker-ip", Kind: "threat_actor", Label: "IP: 192.168.1.50", Risk: "critical"},
					{ID: "user", Kind: "identity", Label: "User: admin", Risk: "high"},
					{ID: "policy", Kind: "resource", Label: "IAM: FullAccess", Risk: "medium"},
				},
				Edges: []model.GraphEdge{
					{Source: "attacker-ip", Target: "user", Label: "Brute Force"},
					{Source: "user", Target: "policy", Label: "Policy Attach"},
				},
			},
		},
		{
			Name:      "Ransomware Data Encrypted",
			Alert:     "High-velocity file encryption detected on DB Server",
			RiskScore: 0.95,
			Action:    "ISOLATE_INSTANCE",
			Target:    "i-098f6bcd4621d373c",
			User:      "system",
			Telemetry: map[string]any{
				"event":   "FileWrite",
				"path":    "/data/db.enc",
				"process": "encrypt.exe",
			},
			Graph: model.Graph{
				Nodes: []model.GraphNode{
					{ID: "c2-server", Kind: "threat_actor", Label: "C2: 45.33.2.1", Risk: "critical"},
					{ID: "host", Kind: "resource", Label: "EC2: DB-Prod", Risk: "critical"},
					{ID: "file", Kind: "resource", Label: "File: sensitive.db", Risk: "high"},
				},
				Edges: []model.GraphEdge{
					{Source: "c2-server", Target: "host", Label: "Command & Control"},
					{Source: "host", Target: "file", Label: "Encryption Process"},
				},
			},
		},
		{
			Name:      "S3 Data Exfiltration",
			Alert:     "Anomalous Data Transfer (5GB) to external IP",
			RiskScore: 0.75,
			Action:    "BLOCK_IP",
			Target:    "203.0.113.42",
			User:      "analyst-bob",
			Telemetry: map[string]any{
				"event":  "GetObject",
				"bucket": "customer-data",
				"bytes":  5000000000,
			},
			Graph: model.Graph{
				Nodes: []model.GraphNode{
					{ID: "insider", Kind: "identity", Label: "User: analyst-bob", Risk: "medium"},
					{ID: "bucket", Kind: "resource", Label: "S3: customer-data", Risk: "high"},
					{ID: "dest-ip", Kind: "threat_actor", Label: "IP: 203.0.113.42", Risk: "critical"},
				},
				Edges: []model.GraphEdge{
					{Source: "insider", Target: "bucket", Label: "Bulk Read"},
					{Source: "bucket", Target: "dest-ip", Label: "Exfiltration"},
				},
			},
		},
	}
}

// Random picks one scenario from the bank.
func Random() Scenario {
	bank := Scenarios()
	return bank[rand.IntN(len(bank))]
}

// Event flattens the scenario into the raw telemetry payload the pipeline
// consumes. The proposed action, target, and graph ride along in the event
// so the policy gate and forensics stage can read them.
func (s Scenario) Event() map[string]any {
	data := make(map[string]any, len(s.Telemetry)+6)
	for k, v := range s.Telemetry {
		data[k] = v
	}
	data["action"] = s.Action
	data["target"] = s.Target
	data["user"] = s.User
	data["alert"] = s.Alert
	data["risk_score"] = s.RiskScore
	data["graph"] = s.Graph
	return data
}
