// Package agent implements the six pipeline agents. Each agent handles the
// message kinds it recognizes and ignores everything else; a handled
// message produces at most one derived message and at most one audit
// append. Failures inside an agent never propagate past Safe: a single
// agent's fault must not abort the run.
package agent

import (
	"context"
	"fmt"

	"github.com/halcyon-sec/soar/internal/model"
)

// Agent is one polymorphic pipeline participant.
type Agent interface {
	// Name identifies the agent for routing and audit attribution.
	Name() model.AgentName

	// Handle processes a message. Unrecognized messages (wrong kind, or a
	// targeted message addressed elsewhere) return (nil, nil).
	Handle(ctx context.Context, msg model.Message) (*model.Message, error)
}

// Safe invokes an agent and converts panics into errors so a faulty agent
// yields "no output" instead of tearing down the run.
func Safe(ctx context.Context, a Agent, msg model.Message) (out *model.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("agent %s panicked: %v", a.Name(), r)
		}
	}()
	return a.Handle(ctx, msg)
}

// stringField reads a string payload key, returning "" when absent or of
// the wrong type. Payload maps are open; agents tolerate missing keys.
func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// mapField reads a nested map payload key.
func mapField(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	m, _ := payload[key].(map[string]any)
	return m
}
