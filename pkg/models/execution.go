package models

import (
	"sync"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution. Terminal
// states are final; there are no transitions out of them.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionTimedOut  ExecutionStatus = "timed_out"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionTimedOut, ExecutionAborted:
		return true
	}

	return false
}

// StepResult records the outcome of a single step within an execution.
type StepResult struct {
	StepName   string         `json:"step_name"`
	ActionID   string         `json:"action_id"`
	Status     ActionStatus   `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// WorkflowExecution is one running instance of a workflow, created per
// trigger match. Executions own their child actions and are never shared
// across triggers.
type WorkflowExecution struct {
	mu sync.RWMutex

	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Workflow    string          `json:"workflow_name"`
	Status      ExecutionStatus `json:"status"`
	TriggerData map[string]any  `json:"trigger_data,omitempty"`
	CurrentStep int             `json:"current_step"`
	StepResults []StepResult    `json:"step_results"`
	ActionIDs   []string        `json:"action_ids"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// SetStatus transitions the execution, refusing to leave a terminal state.
func (e *WorkflowExecution) SetStatus(status ExecutionStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Status.IsTerminal() {
		return false
	}

	e.Status = status

	if status.IsTerminal() {
		now := time.Now().UTC()
		e.FinishedAt = &now
	}

	return true
}

// GetStatus returns the current status under the execution lock.
func (e *WorkflowExecution) GetStatus() ExecutionStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.Status
}

// RecordStep appends a step result and remembers the emitted action.
func (e *WorkflowExecution) RecordStep(result StepResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.StepResults = append(e.StepResults, result)

	if result.ActionID != "" {
		e.ActionIDs = append(e.ActionIDs, result.ActionID)
	}
}

// AdvanceTo moves the current step cursor.
func (e *WorkflowExecution) AdvanceTo(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.CurrentStep = index
}

// SetError stores a terminal error message.
func (e *WorkflowExecution) SetError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Error = message
}

// Snapshot returns a copy safe to hand to admin queries while the execution
// is still mutating.
func (e *WorkflowExecution) Snapshot() WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := WorkflowExecution{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Workflow:    e.Workflow,
		Status:      e.Status,
		TriggerData: e.TriggerData,
		CurrentStep: e.CurrentStep,
		StepResults: append([]StepResult(nil), e.StepResults...),
		ActionIDs:   append([]string(nil), e.ActionIDs...),
		Error:       e.Error,
		StartedAt:   e.StartedAt,
	}

	if e.FinishedAt != nil {
		finished := *e.FinishedAt
		snapshot.FinishedAt = &finished
	}

	return snapshot
}
