// Package events defines the lifecycle notifications published on the
// orchestration event bus: executions, dispatch outcomes, policy review and
// resource churn.
package events

import "time"

type EventType string

// Bus topics.
const (
	Topic       = "sentinel.orchestration" // lifecycle and dispatch events
	ReviewTopic = "sentinel.policy.review" // warning-severity checks for human review
)

const (
	EventKeyMetadataKey  = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	// Workflow execution lifecycle.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionTimedOutEvent  EventType = "execution.timed_out"
	ExecutionAbortedEvent   EventType = "execution.aborted"

	// Kernel dispatch outcomes.
	ActionResolvedEvent EventType = "action.resolved"
	ActionVetoedEvent   EventType = "action.vetoed"
	QueueShedEvent      EventType = "queue.shed"

	// Policy review channel.
	PolicyWarningEvent EventType = "policy.warning"
)

// BaseEvent carries the identity fields shared by every bus event.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ActionID    string    `json:"action_id,omitempty"`
}

// Key is the partition key used by keyed transports.
func (b BaseEvent) Key() string {
	if b.ExecutionID != "" {
		return b.ExecutionID
	}

	return b.WorkflowID
}

type ExecutionStarted struct {
	BaseEvent

	Workflow    string         `json:"workflow_name"`
	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	Workflow      string `json:"workflow_name"`
	StepsExecuted int    `json:"steps_executed"`
	DurationMs    int64  `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	Workflow      string `json:"workflow_name"`
	Error         string `json:"error"`
	StepsExecuted int    `json:"steps_executed"`
	DurationMs    int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionTimedOut struct {
	BaseEvent

	Workflow         string `json:"workflow_name"`
	CancelledActions int    `json:"cancelled_actions"`
	DurationMs       int64  `json:"duration_ms"`
}

func (e ExecutionTimedOut) GetType() EventType { return ExecutionTimedOutEvent }

type ExecutionAborted struct {
	BaseEvent

	Workflow string `json:"workflow_name"`
	Reason   string `json:"reason"`
}

func (e ExecutionAborted) GetType() EventType { return ExecutionAbortedEvent }

// ActionResolved reports the final disposition of one dispatched action.
type ActionResolved struct {
	BaseEvent

	Status  string   `json:"status"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

func (e ActionResolved) GetType() EventType { return ActionResolvedEvent }

// ActionVetoed reports a hard policy veto: the subsystem handler was never
// invoked.
type ActionVetoed struct {
	BaseEvent

	Violations []string `json:"violations"`
}

func (e ActionVetoed) GetType() EventType { return ActionVetoedEvent }

// QueueShed reports an action dropped under queue overload, always with an
// audit record.
type QueueShed struct {
	BaseEvent

	Capacity int `json:"capacity"`
}

func (e QueueShed) GetType() EventType { return QueueShedEvent }

// PolicyWarning carries a failing warning-severity guardrail check to the
// human-review channel.
type PolicyWarning struct {
	BaseEvent

	Binding  string `json:"binding"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
}

func (e PolicyWarning) GetType() EventType { return PolicyWarningEvent }
