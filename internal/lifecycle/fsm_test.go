package lifecycle

import (
	"testing"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestStageTransitions(t *testing.T) {
	tests := []struct {
		from  types.StageState
		to    types.StageState
		valid bool
	}{
		{types.StagePending, types.StageRunning, true},
		{types.StagePending, types.StageSkipped, true},
		{types.StagePending, types.StageSucceeded, false},
		{types.StagePending, types.StageFailed, false},
		{types.StageRunning, types.StageSucceeded, true},
		{types.StageRunning, types.StageFailed, true},
		{types.StageRunning, types.StageTimedOut, true},
		{types.StageRunning, types.StageSkipped, true},
		{types.StageRunning, types.StagePending, false},
		{types.StageSucceeded, types.StageRunning, false},
		{types.StageSucceeded, types.StageFailed, false},
		{types.StageFailed, types.StageRunning, false},
		{types.StageTimedOut, types.StageRunning, false},
		{types.StageSkipped, types.StageRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransitionStage(tt.from, tt.to))
			err := TransitionStage(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunTransitions(t *testing.T) {
	tests := []struct {
		from  types.RunOutcome
		to    types.RunOutcome
		valid bool
	}{
		{types.RunPending, types.RunRunning, true},
		{types.RunPending, types.RunCancelled, true},
		{types.RunPending, types.RunSucceeded, false},
		{types.RunPending, types.RunFailed, false},
		{types.RunRunning, types.RunSucceeded, true},
		{types.RunRunning, types.RunFailed, true},
		{types.RunRunning, types.RunCancelled, true},
		{types.RunRunning, types.RunPending, false},
		{types.RunSucceeded, types.RunFailed, false},
		{types.RunSucceeded, types.RunRunning, false},
		{types.RunFailed, types.RunPending, false},
		{types.RunCancelled, types.RunRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransitionRun(tt.from, tt.to))
			err := TransitionRun(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StageTerminal(types.StageSucceeded))
	assert.True(t, StageTerminal(types.StageFailed))
	assert.True(t, StageTerminal(types.StageTimedOut))
	assert.True(t, StageTerminal(types.StageSkipped))
	assert.False(t, StageTerminal(types.StagePending))
	assert.False(t, StageTerminal(types.StageRunning))

	assert.True(t, RunTerminal(types.RunSucceeded))
	assert.True(t, RunTerminal(types.RunFailed))
	assert.True(t, RunTerminal(types.RunCancelled))
	assert.False(t, RunTerminal(types.RunPending))
	assert.False(t, RunTerminal(types.RunRunning))
}
