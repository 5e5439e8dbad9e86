package workflow

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/citygrid/sentinel/pkg/eventbus"
	"github.com/citygrid/sentinel/pkg/events"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) byType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.events {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type heldAction struct {
	action *models.OrchestrationAction
	done   chan *models.OrchestrationResult
}

// fakeDispatcher stands in for the kernel: it records submissions and either
// answers immediately through respond or holds the result until released.
type fakeDispatcher struct {
	mu        sync.Mutex
	actions   []*models.OrchestrationAction
	held      []heldAction
	cancelled []string
	hold      bool
	respond   func(*models.OrchestrationAction) *models.OrchestrationResult
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		respond: func(action *models.OrchestrationAction) *models.OrchestrationResult {
			return &models.OrchestrationResult{
				ActionID:    action.ID,
				ExecutionID: action.ExecutionID,
				Status:      models.ActionCompleted,
				Success:     true,
			}
		},
	}
}

func (d *fakeDispatcher) Submit(action *models.OrchestrationAction) (<-chan *models.OrchestrationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions = append(d.actions, action)

	done := make(chan *models.OrchestrationResult, 1)

	if d.hold {
		d.held = append(d.held, heldAction{action: action, done: done})

		return done, nil
	}

	done <- d.respond(action)

	return done, nil
}

func (d *fakeDispatcher) CancelExecution(executionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelled = append(d.cancelled, executionID)

	swept := 0
	kept := d.held[:0]

	for _, held := range d.held {
		if held.action.ExecutionID == executionID {
			held.done <- &models.OrchestrationResult{
				ActionID:    held.action.ID,
				ExecutionID: executionID,
				Status:      models.ActionCancelled,
			}
			swept++
		} else {
			kept = append(kept, held)
		}
	}

	d.held = kept

	return swept
}

func (d *fakeDispatcher) submitted() []*models.OrchestrationAction {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*models.OrchestrationAction(nil), d.actions...)
}

func (d *fakeDispatcher) heldCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.held)
}

func (d *fakeDispatcher) releaseAll(status models.ActionStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, held := range d.held {
		held.done <- &models.OrchestrationResult{
			ActionID:    held.action.ID,
			ExecutionID: held.action.ExecutionID,
			Status:      status,
			Success:     status == models.ActionCompleted,
		}
	}

	d.held = nil
}

func step(name string) models.WorkflowStep {
	return models.WorkflowStep{
		Name:       name,
		ActionType: "notify_officers",
		Target:     "communications",
		Parameters: map[string]any{"message": "respond"},
	}
}

func testWorkflow(steps ...models.WorkflowStep) *models.Workflow {
	return &models.Workflow{
		Name:     "gunfire-response",
		Category: models.CategoryPublicSafety,
		Triggers: []models.WorkflowTrigger{
			{Type: models.TriggerTypeEvent, EventTypes: []string{"gunshot_detected"}},
		},
		Steps:    steps,
		Priority: 1,
		Enabled:  true,
	}
}

func awaitStatus(t *testing.T, engine *Engine, executionID string, status models.ExecutionStatus) *models.WorkflowExecution {
	t.Helper()

	var execution *models.WorkflowExecution

	require.Eventually(t, func() bool {
		snapshot, err := engine.Execution(executionID)
		if err != nil {
			return false
		}

		execution = snapshot

		return snapshot.Status == status
	}, 5*time.Second, 10*time.Millisecond, "execution never reached %s", status)

	return execution
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	assert.Error(t, engine.Register(&models.Workflow{Name: "incomplete"}))

	noSteps := testWorkflow()
	assert.Error(t, engine.Register(noSteps))

	badPriority := testWorkflow(step("alert"))
	badPriority.Priority = 9
	assert.Error(t, engine.Register(badPriority))
}

func TestRegisterDefaultsIDAndStepMode(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	workflow := testWorkflow(step("alert"))
	require.NoError(t, engine.Register(workflow))

	assert.NotEmpty(t, workflow.ID)
	assert.Equal(t, models.StepModeSequential, workflow.Steps[0].Mode)
	assert.False(t, workflow.CreatedAt.IsZero())
}

func TestRegisterSameIDReplacesDefinition(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	first := testWorkflow(step("alert"))
	first.ID = "wf-dup"
	require.NoError(t, engine.Register(first))

	second := testWorkflow(step("alert"), step("dispatch"))
	second.ID = "wf-dup"
	require.NoError(t, engine.Register(second))

	workflows := engine.Workflows()
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf-dup", workflows[0].ID)
	assert.Len(t, workflows[0].Steps, 2)

	loaded, err := engine.Workflow("wf-dup")
	require.NoError(t, err)
	assert.Same(t, second, loaded)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	_, err := engine.Execute(context.Background(), "wf-missing", string(models.TriggerTypeManual), nil)

	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecuteDisabledWorkflow(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	workflow := testWorkflow(step("alert"))
	workflow.Enabled = false
	require.NoError(t, engine.Register(workflow))

	_, err := engine.Execute(context.Background(), workflow.ID, string(models.TriggerTypeManual), nil)

	assert.ErrorIs(t, err, ErrWorkflowDisabled)
}

func TestExecuteRunsSequentialStepsInOrder(t *testing.T) {
	dispatcher := newFakeDispatcher()
	publisher := &capturingPublisher{}
	engine := NewEngine(testLogger(), dispatcher, publisher)

	workflow := testWorkflow(step("alert-officers"), step("dispatch-drone"), step("log-incident"))
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), map[string]any{"zone": "downtown"})
	require.NoError(t, err)

	final := awaitStatus(t, engine, execution.ID, models.ExecutionCompleted)

	require.Len(t, final.StepResults, 3)
	assert.Equal(t, "alert-officers", final.StepResults[0].StepName)
	assert.Equal(t, "dispatch-drone", final.StepResults[1].StepName)
	assert.Equal(t, "log-incident", final.StepResults[2].StepName)

	submitted := dispatcher.submitted()
	require.Len(t, submitted, 3)
	assert.Equal(t, "downtown", submitted[0].Parameters["zone"])
	assert.Equal(t, "respond", submitted[0].Parameters["message"])
	assert.Equal(t, workflow.Priority, submitted[0].Priority)

	assert.Len(t, publisher.byType(events.ExecutionStartedEvent), 1)
	assert.Len(t, publisher.byType(events.ExecutionCompletedEvent), 1)

	stats := engine.Statistics()
	assert.Equal(t, int64(1), stats.Triggered)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestParallelStepsDispatchTogether(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.hold = true
	engine := NewEngine(testLogger(), dispatcher, nil)

	first := step("notify-patrol")
	first.Mode = models.StepModeParallel
	second := step("notify-ems")
	second.Mode = models.StepModeParallel

	workflow := testWorkflow(first, second)
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	// both parallel steps are in flight before either resolves
	require.Eventually(t, func() bool {
		return dispatcher.heldCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	dispatcher.releaseAll(models.ActionCompleted)

	awaitStatus(t, engine, execution.ID, models.ExecutionCompleted)
}

func TestSequentialStepsDoNotOverlap(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.hold = true
	engine := NewEngine(testLogger(), dispatcher, nil)

	workflow := testWorkflow(step("first"), step("second"))
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return dispatcher.heldCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// the second step must wait for the first
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, dispatcher.submitted(), 1)

	dispatcher.releaseAll(models.ActionCompleted)

	require.Eventually(t, func() bool {
		return dispatcher.heldCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	dispatcher.releaseAll(models.ActionCompleted)

	awaitStatus(t, engine, execution.ID, models.ExecutionCompleted)
	assert.Len(t, dispatcher.submitted(), 2)
}

func TestRequiredStepFailureFailsExecution(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.respond = func(action *models.OrchestrationAction) *models.OrchestrationResult {
		status := models.ActionCompleted
		if action.StepName == "dispatch-drone" {
			status = models.ActionFailed
		}

		return &models.OrchestrationResult{
			ActionID:    action.ID,
			ExecutionID: action.ExecutionID,
			Status:      status,
			Success:     status == models.ActionCompleted,
			Errors:      []string{"drone bay offline"},
		}
	}

	engine := NewEngine(testLogger(), dispatcher, nil)

	workflow := testWorkflow(step("alert-officers"), step("dispatch-drone"), step("log-incident"))
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	final := awaitStatus(t, engine, execution.ID, models.ExecutionFailed)

	assert.Contains(t, final.Error, "dispatch-drone")
	assert.Len(t, dispatcher.submitted(), 2, "remaining steps must not dispatch")
	assert.Equal(t, int64(1), engine.Statistics().Failed)
}

func TestOptionalStepFailureIsTolerated(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.respond = func(action *models.OrchestrationAction) *models.OrchestrationResult {
		status := models.ActionCompleted
		if action.StepName == "courtesy-notice" {
			status = models.ActionFailed
		}

		return &models.OrchestrationResult{
			ActionID:    action.ID,
			ExecutionID: action.ExecutionID,
			Status:      status,
			Success:     status == models.ActionCompleted,
		}
	}

	engine := NewEngine(testLogger(), dispatcher, nil)

	optional := step("courtesy-notice")
	notRequired := false
	optional.Required = &notRequired

	workflow := testWorkflow(step("alert-officers"), optional, step("log-incident"))
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	awaitStatus(t, engine, execution.ID, models.ExecutionCompleted)
	assert.Len(t, dispatcher.submitted(), 3)
}

func TestVetoedStepFailsExecution(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.respond = func(action *models.OrchestrationAction) *models.OrchestrationResult {
		if action.StepName == "dispatch-drone" {
			return &models.OrchestrationResult{
				ActionID:    action.ID,
				ExecutionID: action.ExecutionID,
				Status:      models.ActionVetoed,
				Errors:      []string{"binding school-zone (blocking): armed response prohibited near schools"},
			}
		}

		return &models.OrchestrationResult{
			ActionID:    action.ID,
			ExecutionID: action.ExecutionID,
			Status:      models.ActionCompleted,
			Success:     true,
		}
	}

	engine := NewEngine(testLogger(), dispatcher, nil)

	workflow := testWorkflow(step("alert-officers"), step("dispatch-drone"), step("log-incident"))
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	final := awaitStatus(t, engine, execution.ID, models.ExecutionFailed)

	assert.Contains(t, final.Error, "vetoed")
	assert.Contains(t, final.Error, "school-zone")
}

func TestContinueOnViolationToleratesVetoes(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.respond = func(action *models.OrchestrationAction) *models.OrchestrationResult {
		if action.StepName == "dispatch-drone" {
			return &models.OrchestrationResult{
				ActionID:    action.ID,
				ExecutionID: action.ExecutionID,
				Status:      models.ActionVetoed,
			}
		}

		return &models.OrchestrationResult{
			ActionID:    action.ID,
			ExecutionID: action.ExecutionID,
			Status:      models.ActionCompleted,
			Success:     true,
		}
	}

	engine := NewEngine(testLogger(), dispatcher, nil)

	workflow := testWorkflow(step("alert-officers"), step("dispatch-drone"), step("log-incident"))
	workflow.ContinueOnViolation = true
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	awaitStatus(t, engine, execution.ID, models.ExecutionCompleted)
	assert.Len(t, dispatcher.submitted(), 3)
}

func TestWorkflowTimeoutCancelsPendingActions(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.hold = true
	publisher := &capturingPublisher{}
	engine := NewEngine(testLogger(), dispatcher, publisher)

	workflow := testWorkflow(step("stuck"))
	workflow.Timeout = models.Duration(100 * time.Millisecond)
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	final := awaitStatus(t, engine, execution.ID, models.ExecutionTimedOut)

	assert.Contains(t, final.Error, "timeout")

	dispatcher.mu.Lock()
	cancelled := append([]string(nil), dispatcher.cancelled...)
	dispatcher.mu.Unlock()

	assert.Contains(t, cancelled, execution.ID)
	assert.Len(t, publisher.byType(events.ExecutionTimedOutEvent), 1)
	assert.Equal(t, int64(1), engine.Statistics().TimedOut)
}

func TestAbortStopsRunningExecution(t *testing.T) {
	dispatcher := newFakeDispatcher()
	dispatcher.hold = true
	publisher := &capturingPublisher{}
	engine := NewEngine(testLogger(), dispatcher, publisher)

	workflow := testWorkflow(step("stuck"), step("never-reached"))
	require.NoError(t, engine.Register(workflow))

	execution, err := engine.Execute(context.Background(), workflow.ID,
		string(models.TriggerTypeManual), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return dispatcher.heldCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Abort(context.Background(), execution.ID, "operator override"))

	final := awaitStatus(t, engine, execution.ID, models.ExecutionAborted)

	assert.Contains(t, final.Error, "operator override")
	assert.Len(t, publisher.byType(events.ExecutionAbortedEvent), 1)
	assert.Equal(t, int64(1), engine.Statistics().Aborted)

	// aborting twice or after completion is rejected
	assert.Error(t, engine.Abort(context.Background(), execution.ID, "again"))
}

func TestAbortUnknownExecution(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	err := engine.Abort(context.Background(), "exec-missing", "noop")

	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestMatchTriggerFiltersDisabledAndNonMatching(t *testing.T) {
	engine := NewEngine(testLogger(), newFakeDispatcher(), nil)

	matching := testWorkflow(step("alert"))
	require.NoError(t, engine.Register(matching))

	disabled := testWorkflow(step("alert"))
	disabled.Name = "disabled-response"
	disabled.Enabled = false
	require.NoError(t, engine.Register(disabled))

	other := testWorkflow(step("alert"))
	other.Name = "flood-response"
	other.Triggers = []models.WorkflowTrigger{
		{Type: models.TriggerTypeEvent, EventTypes: []string{"flood_warning"}},
	}
	require.NoError(t, engine.Register(other))

	matched := engine.MatchTrigger("gunshot_detected", "gunshot_detection", nil)

	require.Len(t, matched, 1)
	assert.Equal(t, matching.ID, matched[0].ID)
}

func TestHandleEventStartsExecutionPerMatchedWorkflow(t *testing.T) {
	dispatcher := newFakeDispatcher()
	engine := NewEngine(testLogger(), dispatcher, nil)

	workflow := testWorkflow(step("alert"))
	require.NoError(t, engine.Register(workflow))

	event := &models.NormalizedEvent{
		ID:       "evt-1",
		Channel:  "gunshot_detection",
		Type:     "gunshot_detected",
		Category: models.CategoryPublicSafety,
		Priority: 1,
		Location: &models.Location{Latitude: 41.88, Longitude: -87.63},
		Data:     map[string]any{"confidence": 0.92},
	}

	require.NoError(t, engine.HandleEvent(context.Background(), event))

	require.Eventually(t, func() bool {
		return len(engine.Executions()) == 1 &&
			engine.Executions()[0].Status == models.ExecutionCompleted
	}, 5*time.Second, 10*time.Millisecond)

	submitted := dispatcher.submitted()
	require.NotEmpty(t, submitted)
	assert.Equal(t, "evt-1", submitted[0].Parameters["event_id"])
	assert.Equal(t, 0.92, submitted[0].Parameters["confidence"])

	location, ok := submitted[0].Parameters["location"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 41.88, location["latitude"].(float64), 0.0001)
}
