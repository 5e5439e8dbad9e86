package web

// ExecuteWorkflowRequest is the body of a manual workflow trigger.
type ExecuteWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// AbortExecutionRequest carries the operator's reason for terminating an
// execution.
type AbortExecutionRequest struct {
	Reason string `json:"reason" validate:"required"`
}
