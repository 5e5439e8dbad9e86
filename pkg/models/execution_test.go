package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetStatusRefusesToLeaveTerminalState(t *testing.T) {
	execution := &WorkflowExecution{ID: "exec-1", Status: ExecutionPending}

	require.True(t, execution.SetStatus(ExecutionRunning))
	require.True(t, execution.SetStatus(ExecutionCompleted))
	require.NotNil(t, execution.FinishedAt)

	assert.False(t, execution.SetStatus(ExecutionFailed))
	assert.Equal(t, ExecutionCompleted, execution.GetStatus())
}

func TestSetStatusStampsFinishedAtOnce(t *testing.T) {
	execution := &WorkflowExecution{ID: "exec-2", Status: ExecutionRunning}

	require.True(t, execution.SetStatus(ExecutionFailed))
	finished := execution.FinishedAt
	require.NotNil(t, finished)

	execution.SetStatus(ExecutionCompleted)
	assert.Same(t, finished, execution.FinishedAt)
}

func TestRecordStepCollectsActionIDs(t *testing.T) {
	execution := &WorkflowExecution{ID: "exec-3"}

	execution.RecordStep(StepResult{StepName: "alert", ActionID: "act-1", Status: ActionCompleted})
	execution.RecordStep(StepResult{StepName: "log", Status: ActionFailed})

	assert.Len(t, execution.StepResults, 2)
	assert.Equal(t, []string{"act-1"}, execution.ActionIDs)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	execution := &WorkflowExecution{ID: "exec-4", Status: ExecutionRunning}
	execution.RecordStep(StepResult{StepName: "alert", ActionID: "act-1"})

	snapshot := execution.Snapshot()
	execution.RecordStep(StepResult{StepName: "log", ActionID: "act-2"})

	assert.Len(t, snapshot.StepResults, 1)
	assert.Len(t, execution.StepResults, 2)
}
