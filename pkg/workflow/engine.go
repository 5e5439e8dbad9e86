// Package workflow holds the library of workflow definitions and manages
// the lifecycle of running executions: trigger matching, step sequencing,
// per-step timeout and failure handling, completion and abort.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/citygrid/sentinel/pkg/eventbus"
	"github.com/citygrid/sentinel/pkg/events"
	"github.com/citygrid/sentinel/pkg/metrics"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound indicates the id matches no registered definition.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowDisabled indicates the workflow exists but is not enabled.
	ErrWorkflowDisabled = errors.New("workflow disabled")

	// ErrExecutionNotFound indicates the id matches no known execution.
	ErrExecutionNotFound = errors.New("execution not found")
)

// Dispatcher is the kernel surface the engine needs: submit an action and
// receive its eventual result, or sweep an execution's pending actions.
type Dispatcher interface {
	Submit(action *models.OrchestrationAction) (<-chan *models.OrchestrationResult, error)
	CancelExecution(executionID string) int
}

// Statistics is a point-in-time snapshot of engine counters.
type Statistics struct {
	Workflows  int   `json:"workflows"`
	Active     int   `json:"active"`
	Triggered  int64 `json:"triggered"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	TimedOut   int64 `json:"timed_out"`
	Aborted    int64 `json:"aborted"`
}

// Engine owns workflow definitions (immutable after registration) and the
// run state of their executions.
type Engine struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	validate   *validator.Validate
	dispatcher Dispatcher
	publisher  eventbus.Publisher

	workflows  map[string]*models.Workflow
	order      []string
	executions map[string]*models.WorkflowExecution

	stats Statistics
}

func NewEngine(logger *slog.Logger, dispatcher Dispatcher, publisher eventbus.Publisher) *Engine {
	return &Engine{
		logger:     logger.With("module", "workflow_engine"),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		dispatcher: dispatcher,
		publisher:  publisher,
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.WorkflowExecution),
	}
}

// Register stores a workflow definition. Registering an existing id replaces
// the previous definition (last write wins) and never affects executions
// already running.
func (e *Engine) Register(workflow *models.Workflow) error {
	if err := e.validate.Struct(workflow); err != nil {
		return fmt.Errorf("invalid workflow definition: %w", err)
	}

	if workflow.ID == "" {
		workflow.ID = "wf-" + uuid.New().String()[:8]
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	for i := range workflow.Steps {
		if workflow.Steps[i].Mode == "" {
			workflow.Steps[i].Mode = models.StepModeSequential
		}
	}

	e.mu.Lock()

	if _, exists := e.workflows[workflow.ID]; !exists {
		e.order = append(e.order, workflow.ID)
	}

	e.workflows[workflow.ID] = workflow
	e.mu.Unlock()

	e.logger.Info("Registered workflow",
		"workflow_id", workflow.ID, "name", workflow.Name,
		"steps", len(workflow.Steps), "priority", workflow.Priority)

	return nil
}

// Workflow returns a registered definition by id.
func (e *Engine) Workflow(id string) (*models.Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	workflow, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	return workflow, nil
}

// Workflows lists definitions in registration order.
func (e *Engine) Workflows() []*models.Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.workflows[id])
	}

	return out
}

// MatchTrigger returns every enabled workflow with an event trigger matching
// the given type and source whose extra conditions hold against the payload.
func (e *Engine) MatchTrigger(eventType, eventSource string, payload map[string]any) []*models.Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matched []*models.Workflow

	for _, id := range e.order {
		workflow := e.workflows[id]

		if !workflow.Enabled {
			continue
		}

		for i := range workflow.Triggers {
			if workflow.Triggers[i].Matches(eventType, eventSource, payload) {
				matched = append(matched, workflow)

				break
			}
		}
	}

	return matched
}

// HandleEvent is the pipeline the router feeds. Each trigger match creates a
// new independent execution; no execution is shared across triggers.
func (e *Engine) HandleEvent(ctx context.Context, event *models.NormalizedEvent) error {
	matched := e.MatchTrigger(event.Type, event.Channel, event.Data)

	e.logger.InfoContext(ctx, "Matched event against workflow triggers",
		"event_id", event.ID, "event_type", event.Type, "matches", len(matched))

	for _, workflow := range matched {
		triggerData := map[string]any{
			"event_id":       event.ID,
			"event_type":     event.Type,
			"event_channel":  event.Channel,
			"event_priority": event.Priority,
		}

		for key, value := range event.Data {
			triggerData[key] = value
		}

		if event.Location != nil {
			triggerData["location"] = map[string]any{
				"latitude":  event.Location.Latitude,
				"longitude": event.Location.Longitude,
			}
		}

		if _, err := e.Execute(ctx, workflow.ID, string(models.TriggerTypeEvent), triggerData); err != nil {
			e.logger.ErrorContext(ctx, "Failed to start execution for matched workflow",
				"workflow_id", workflow.ID, "error", err)
		}
	}

	return nil
}

// Execute creates a new execution of the workflow and runs it
// asynchronously. The returned execution can be polled for status.
func (e *Engine) Execute(ctx context.Context, workflowID, triggerType string, triggerData map[string]any) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	workflow, ok := e.workflows[workflowID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	if !workflow.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowDisabled, workflowID)
	}

	execution := &models.WorkflowExecution{
		ID:          "exec-" + uuid.New().String()[:8],
		WorkflowID:  workflow.ID,
		Workflow:    workflow.Name,
		Status:      models.ExecutionPending,
		TriggerData: triggerData,
		StartedAt:   time.Now().UTC(),
	}

	e.mu.Lock()
	e.executions[execution.ID] = execution
	e.stats.Triggered++
	e.mu.Unlock()

	metrics.ActiveExecutions.Inc()

	e.publish(ctx, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, execution),
		Workflow:    workflow.Name,
		TriggerType: triggerType,
		TriggerData: triggerData,
	})

	e.logger.InfoContext(ctx, "Starting workflow execution",
		"execution_id", execution.ID, "workflow_id", workflow.ID,
		"workflow", workflow.Name, "trigger_type", triggerType)

	go e.run(workflow, execution)

	return execution, nil
}

// Execution returns a snapshot of one execution.
func (e *Engine) Execution(id string) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	execution, ok := e.executions[id]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}

	snapshot := execution.Snapshot()

	return &snapshot, nil
}

// ActiveExecutions snapshots every execution not yet in a terminal state.
func (e *Engine) ActiveExecutions() []*models.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var active []*models.WorkflowExecution

	for _, execution := range e.executions {
		if !execution.GetStatus().IsTerminal() {
			snapshot := execution.Snapshot()
			active = append(active, &snapshot)
		}
	}

	return active
}

// Executions snapshots every known execution.
func (e *Engine) Executions() []*models.WorkflowExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.WorkflowExecution, 0, len(e.executions))

	for _, execution := range e.executions {
		snapshot := execution.Snapshot()
		out = append(out, &snapshot)
	}

	return out
}

// Abort terminates a non-terminal execution: its still-queued actions are
// cancelled and the execution is marked aborted. In-flight handler calls
// finish on their own.
func (e *Engine) Abort(ctx context.Context, executionID, reason string) error {
	e.mu.RLock()
	execution, ok := e.executions[executionID]
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	execution.SetError("aborted: " + reason)

	if !execution.SetStatus(models.ExecutionAborted) {
		return fmt.Errorf("execution %s already finished", executionID)
	}

	e.dispatcher.CancelExecution(executionID)
	e.finishStats(models.ExecutionAborted)
	e.publish(ctx, events.ExecutionAborted{
		BaseEvent: e.baseEvent(events.ExecutionAbortedEvent, execution),
		Workflow:  execution.Workflow,
		Reason:    reason,
	})

	e.logger.InfoContext(ctx, "Aborted execution", "execution_id", executionID, "reason", reason)

	return nil
}

// Statistics returns engine counters plus the active execution count.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := e.stats
	stats.Workflows = len(e.workflows)

	for _, execution := range e.executions {
		if !execution.GetStatus().IsTerminal() {
			stats.Active++
		}
	}

	return stats
}

func (e *Engine) baseEvent(eventType events.EventType, execution *models.WorkflowExecution) events.BaseEvent {
	return events.BaseEvent{
		ID:          "wev-" + uuid.New().String()[:8],
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  execution.WorkflowID,
		ExecutionID: execution.ID,
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, event.Key(), event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish engine event", "error", err)
	}
}
