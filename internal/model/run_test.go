package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-sec/soar/internal/model"
)

func TestNewRunCorrelationEqualsRunID(t *testing.T) {
	r := model.NewRun("sess-1")
	require.Equal(t, r.ID, r.CorrelationID)
	assert.Equal(t, model.StageInit, r.Stage)
	assert.Equal(t, model.RunStatusActive, r.Status)
	assert.Equal(t, model.ApprovalNotRequired, r.Approval)
	assert.Empty(t, r.Messages)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.Stage
		want     bool
	}{
		{model.StageInit, model.StageIngest, true},
		{model.StageIngest, model.StageDetect, true},
		{model.StageDetect, model.StageEvaluate, true},
		{model.StageEvaluate, model.StageAwaitApproval, true},
		{model.StageEvaluate, model.StageInvestigate, true}, // approval skipped
		{model.StageAwaitApproval, model.StageInvestigate, true},
		{model.StageInvestigate, model.StageRemediate, true},
		{model.StageRemediate, model.StageAudit, true},
		{model.StageAudit, model.StageCompleted, true},

		// Early completion: absence of signal is not an error.
		{model.StageIngest, model.StageCompleted, true},
		{model.StageDetect, model.StageCompleted, true},

		// Cancelled is reachable from any non-terminal stage.
		{model.StageInit, model.StageCancelled, true},
		{model.StageAwaitApproval, model.StageCancelled, true},
		{model.StageRemediate, model.StageCancelled, true},

		// No stage runs out of order or after a terminal stage.
		{model.StageDetect, model.StageIngest, false},
		{model.StageEvaluate, model.StageRemediate, false},
		{model.StageIngest, model.StageEvaluate, false},
		{model.StageCompleted, model.StageIngest, false},
		{model.StageCancelled, model.StageInvestigate, false},
		{model.StageCancelled, model.StageCancelled, false},
		{model.StageCompleted, model.StageCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, model.StageCompleted.Terminal())
	assert.True(t, model.StageCancelled.Terminal())
	assert.False(t, model.StageRemediate.Terminal())
}

func TestRunAppendPreservesOrder(t *testing.T) {
	r := model.NewRun("sess-1")
	first := model.NewMessage(model.KindAlert, model.AgentTelemetry, nil, model.WithCorrelation(r.CorrelationID))
	second := first.Derive(model.KindCommand, model.AgentSupervisor, nil)
	r.Append(first)
	r.Append(second)

	require.Len(t, r.Messages, 2)
	assert.Equal(t, first.ID, r.Messages[0].ID)
	assert.Equal(t, second.ID, r.Messages[1].ID)
}
