package models

import "time"

// ActionStatus is the terminal disposition of a dispatched action.
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionVetoed    ActionStatus = "vetoed"
	ActionTimedOut  ActionStatus = "timed_out"
	ActionCancelled ActionStatus = "cancelled"
	ActionShed      ActionStatus = "shed"
)

// OrchestrationAction is a single unit of dispatchable work. The workflow
// engine creates actions; the kernel owns them from enqueue until a result is
// recorded.
type OrchestrationAction struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id"`
	WorkflowID  string           `json:"workflow_id"`
	Workflow    string           `json:"workflow_name"`
	StepName    string           `json:"step_name"`
	ActionType  string           `json:"action_type"`
	Target      string           `json:"target"`
	Parameters  map[string]any   `json:"parameters,omitempty"`
	Priority    int              `json:"priority"`
	Timeout     Duration         `json:"timeout,omitempty"`
	Guardrails  []string         `json:"guardrails,omitempty"`
	Resource    *ResourceRequest `json:"resource,omitempty"`
	Confirm     bool             `json:"requires_confirmation,omitempty"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// OrchestrationResult is the append-only audit record of one dispatch
// attempt. A blocking policy violation is always visible in Errors and
// AuditTrail, never silently swallowed.
type OrchestrationResult struct {
	ActionID    string           `json:"action_id"`
	ExecutionID string           `json:"execution_id"`
	WorkflowID  string           `json:"workflow_id"`
	ActionType  string           `json:"action_type"`
	Target      string           `json:"target"`
	Status      ActionStatus     `json:"status"`
	Success     bool             `json:"success"`
	Output      map[string]any   `json:"output,omitempty"`
	Errors      []string         `json:"errors,omitempty"`
	Checks      []GuardrailCheck `json:"checks,omitempty"`
	ResourceID  string           `json:"resource_id,omitempty"`
	Attempts    int              `json:"attempts"`
	AuditTrail  []string         `json:"audit_trail"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	DurationMs  int64            `json:"duration_ms"`
}
