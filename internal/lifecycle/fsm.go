// Package lifecycle implements the stage and run state machines.
package lifecycle

import (
	"fmt"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Stage transition table: from -> allowed tos. Running -> Skipped covers
// cancellation of an in-flight stage.
var stageTransitions = map[types.StageState][]types.StageState{
	types.StagePending:   {types.StageRunning, types.StageSkipped},
	types.StageRunning:   {types.StageSucceeded, types.StageFailed, types.StageTimedOut, types.StageSkipped},
	types.StageSucceeded: {},
	types.StageFailed:    {},
	types.StageTimedOut:  {},
	types.StageSkipped:   {},
}

// Run transition table: from -> allowed tos.
var runTransitions = map[types.RunOutcome][]types.RunOutcome{
	types.RunPending:   {types.RunRunning, types.RunCancelled},
	types.RunRunning:   {types.RunSucceeded, types.RunFailed, types.RunCancelled},
	types.RunSucceeded: {},
	types.RunFailed:    {},
	types.RunCancelled: {},
}

// CanTransitionStage checks if transitioning a stage from one state to another is valid.
func CanTransitionStage(from, to types.StageState) bool {
	for _, s := range stageTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionStage validates a stage transition, returning an error if it is invalid.
func TransitionStage(from, to types.StageState) error {
	if !CanTransitionStage(from, to) {
		return fmt.Errorf("invalid stage transition from %s to %s", from, to)
	}
	return nil
}

// CanTransitionRun checks if transitioning a run from one outcome to another is valid.
func CanTransitionRun(from, to types.RunOutcome) bool {
	for _, o := range runTransitions[from] {
		if o == to {
			return true
		}
	}
	return false
}

// TransitionRun validates a run transition, returning an error if it is invalid.
func TransitionRun(from, to types.RunOutcome) error {
	if !CanTransitionRun(from, to) {
		return fmt.Errorf("invalid run transition from %s to %s", from, to)
	}
	return nil
}

// StageTerminal returns true if the stage state is final.
func StageTerminal(s types.StageState) bool {
	return s == types.StageSucceeded || s == types.StageFailed ||
		s == types.StageTimedOut || s == types.StageSkipped
}

// RunTerminal returns true if the run outcome is final.
func RunTerminal(o types.RunOutcome) bool {
	return o == types.RunSucceeded || o == types.RunFailed || o == types.RunCancelled
}
