package model_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/soar/internal/model"
)

func TestNewMessageDefaults(t *testing.T) {
	m := model.NewMessage(model.KindAlert, model.AgentTelemetry, map[string]any{"event": "ConsoleLogin"})

	require.NotEqual(t, uuid.Nil, m.ID)
	assert.False(t, m.Timestamp.IsZero())
	assert.Equal(t, "UTC", m.Timestamp.Location().String())
	assert.Equal(t, model.PriorityLow, m.Priority)
	assert.Equal(t, model.AgentName(""), m.Target)
	assert.Equal(t, uuid.Nil, m.CorrelationID)
}

func TestMessageOptions(t *testing.T) {
	corr := uuid.New()
	m := model.NewMessage(model.KindCommand, model.AgentSupervisor, map[string]any{"action": "IAM_REVOKE"},
		model.WithTarget(model.AgentResponse),
		model.WithPriority(model.PriorityCritical),
		model.WithCorrelation(corr),
		model.WithSecurity(model.SecurityContext{TenantID: "t1", RiskScore: 0.9}),
	)

	assert.Equal(t, model.AgentResponse, m.Target)
	assert.Equal(t, model.PriorityCritical, m.Priority)
	assert.Equal(t, corr, m.CorrelationID)
	require.NotNil(t, m.Security)
	assert.Equal(t, "t1", m.Security.TenantID)
}

func TestCorrelationAnchorsOnOwnID(t *testing.T) {
	m := model.NewMessage(model.KindAlert, model.AgentTelemetry, nil)
	// No explicit correlation id: the message anchors the run itself.
	assert.Equal(t, m.ID, m.Correlation())

	corr := uuid.New()
	m2 := model.NewMessage(model.KindAlert, model.AgentTelemetry, nil, model.WithCorrelation(corr))
	assert.Equal(t, corr, m2.Correlation())
}

func TestDeriveCarriesCorrelationForward(t *testing.T) {
	root := model.NewMessage(model.KindAlert, model.AgentTelemetry, map[string]any{"event": "x"})
	child := root.Derive(model.KindCommand, model.AgentSupervisor, map[string]any{"incident_id": root.ID.String()},
		model.WithTarget(model.AgentForensics))
	grandchild := child.Derive(model.KindReport, model.AgentForensics, nil)

	assert.NotEqual(t, root.ID, child.ID)
	assert.Equal(t, root.ID, child.Correlation())
	assert.Equal(t, root.ID, grandchild.Correlation())

	// Deriving must not touch the source message.
	assert.Equal(t, uuid.Nil, root.CorrelationID)
}

func TestAddressedTo(t *testing.T) {
	broadcast := model.NewMessage(model.KindLog, model.AgentResponse, nil)
	assert.True(t, broadcast.AddressedTo(model.AgentCompliance))

	targeted := model.NewMessage(model.KindCommand, model.AgentSupervisor, nil, model.WithTarget(model.AgentForensics))
	assert.True(t, targeted.AddressedTo(model.AgentForensics))
	assert.False(t, targeted.AddressedTo(model.AgentResponse))
}

func TestValidKind(t *testing.T) {
	for _, k := range []model.Kind{model.KindAlert, model.KindCommand, model.KindQuery, model.KindResponse, model.KindLog, model.KindReport} {
		assert.True(t, model.ValidKind(k), "kind %q", k)
	}
	assert.False(t, model.ValidKind(model.Kind("telegram")))
	assert.False(t, model.ValidKind(model.Kind("")))
}

func TestPriorityOrdering(t *testing.T) {
	assert.Less(t, model.PriorityLow, model.PriorityMedium)
	assert.Less(t, model.PriorityMedium, model.PriorityHigh)
	assert.Less(t, model.PriorityHigh, model.PriorityCritical)
	assert.Equal(t, "critical", model.PriorityCritical.String())
}
