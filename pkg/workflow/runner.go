package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/citygrid/sentinel/pkg/events"
	"github.com/citygrid/sentinel/pkg/metrics"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/google/uuid"
)

// stepOutcome pairs one step with the result of its dispatched action.
type stepOutcome struct {
	index  int
	step   *models.WorkflowStep
	result *models.OrchestrationResult
	err    error
}

// run drives one execution to a terminal state. Sequential steps complete
// before the next starts; contiguous parallel steps are emitted concurrently
// and joined before the execution advances. The overall workflow timeout
// cancels all still-pending actions.
func (e *Engine) run(workflow *models.Workflow, execution *models.WorkflowExecution) {
	defer metrics.ActiveExecutions.Dec()

	ctx := context.Background()

	if workflow.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, workflow.Timeout.Std())
		defer cancel()
	}

	execution.SetStatus(models.ExecutionRunning)

	logger := e.logger.With("execution_id", execution.ID, "workflow", workflow.Name)

	index := 0
	executed := 0

	for index < len(workflow.Steps) {
		group := parallelGroup(workflow.Steps, index)
		execution.AdvanceTo(index)

		outcomes, timedOut := e.runGroup(ctx, workflow, execution, index, group)
		executed += len(outcomes)

		if timedOut {
			cancelled := e.dispatcher.CancelExecution(execution.ID)
			execution.SetError("workflow timeout exceeded")

			if !execution.SetStatus(models.ExecutionTimedOut) {
				return
			}

			e.finishStats(models.ExecutionTimedOut)
			e.publish(ctx, events.ExecutionTimedOut{
				BaseEvent:        e.baseEvent(events.ExecutionTimedOutEvent, execution),
				Workflow:         workflow.Name,
				CancelledActions: cancelled,
				DurationMs:       time.Since(execution.StartedAt).Milliseconds(),
			})
			logger.Warn("Execution timed out", "cancelled_actions", cancelled)

			return
		}

		for _, outcome := range outcomes {
			if abortMessage := e.evaluateOutcome(workflow, outcome); abortMessage != "" {
				execution.SetError(abortMessage)

				if !execution.SetStatus(models.ExecutionFailed) {
					return
				}

				e.finishStats(models.ExecutionFailed)
				e.publish(ctx, events.ExecutionFailed{
					BaseEvent:     e.baseEvent(events.ExecutionFailedEvent, execution),
					Workflow:      workflow.Name,
					Error:         abortMessage,
					StepsExecuted: executed,
					DurationMs:    time.Since(execution.StartedAt).Milliseconds(),
				})
				logger.Warn("Execution failed", "error", abortMessage)

				return
			}
		}

		index += len(group)
	}

	if !execution.SetStatus(models.ExecutionCompleted) {
		return
	}

	e.finishStats(models.ExecutionCompleted)
	e.publish(ctx, events.ExecutionCompleted{
		BaseEvent:     e.baseEvent(events.ExecutionCompletedEvent, execution),
		Workflow:      workflow.Name,
		StepsExecuted: executed,
		DurationMs:    time.Since(execution.StartedAt).Milliseconds(),
	})
	logger.Info("Execution completed", "steps_executed", executed)
}

// parallelGroup returns the contiguous run of steps starting at index that
// dispatch together: a single sequential step, or every consecutive
// parallel-mode step.
func parallelGroup(steps []models.WorkflowStep, index int) []*models.WorkflowStep {
	if steps[index].Mode != models.StepModeParallel {
		return []*models.WorkflowStep{&steps[index]}
	}

	var group []*models.WorkflowStep

	for i := index; i < len(steps) && steps[i].Mode == models.StepModeParallel; i++ {
		group = append(group, &steps[i])
	}

	return group
}

// runGroup dispatches every step in the group and waits for all of them to
// resolve. Returns timedOut=true when the workflow deadline fires first.
func (e *Engine) runGroup(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, base int, group []*models.WorkflowStep) ([]stepOutcome, bool) {
	results := make(chan stepOutcome, len(group))

	for offset, step := range group {
		go func(index int, step *models.WorkflowStep) {
			outcome := e.dispatchStep(ctx, workflow, execution, step)
			outcome.index = index
			results <- outcome
		}(base+offset, step)
	}

	outcomes := make([]stepOutcome, 0, len(group))

	for range group {
		select {
		case outcome := <-results:
			outcomes = append(outcomes, outcome)
		case <-ctx.Done():
			return outcomes, true
		}
	}

	return outcomes, false
}

// dispatchStep turns one step into an orchestration action, submits it and
// waits for the kernel's verdict.
func (e *Engine) dispatchStep(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution, step *models.WorkflowStep) stepOutcome {
	parameters := make(map[string]any, len(step.Parameters)+len(execution.TriggerData))

	for key, value := range execution.TriggerData {
		parameters[key] = value
	}

	for key, value := range step.Parameters {
		parameters[key] = value
	}

	action := &models.OrchestrationAction{
		ID:          "act-" + uuid.New().String()[:8],
		ExecutionID: execution.ID,
		WorkflowID:  workflow.ID,
		Workflow:    workflow.Name,
		StepName:    step.Name,
		ActionType:  step.ActionType,
		Target:      step.Target,
		Parameters:  parameters,
		Priority:    workflow.Priority,
		Timeout:     step.Timeout,
		Guardrails:  workflow.AllGuardrails(step),
		Resource:    step.Resource,
		Confirm:     step.Confirm,
	}

	started := time.Now().UTC()

	done, err := e.dispatcher.Submit(action)
	if err != nil {
		execution.RecordStep(models.StepResult{
			StepName:   step.Name,
			ActionID:   action.ID,
			Status:     models.ActionFailed,
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		})

		return stepOutcome{step: step, err: err}
	}

	select {
	case result := <-done:
		stepResult := models.StepResult{
			StepName:   step.Name,
			ActionID:   action.ID,
			Status:     result.Status,
			Output:     result.Output,
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}

		if len(result.Errors) > 0 {
			stepResult.Error = result.Errors[0]
		}

		execution.RecordStep(stepResult)

		return stepOutcome{step: step, result: result}
	case <-ctx.Done():
		execution.RecordStep(models.StepResult{
			StepName:   step.Name,
			ActionID:   action.ID,
			Status:     models.ActionCancelled,
			Error:      "workflow timeout exceeded",
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		})

		return stepOutcome{step: step, err: ctx.Err()}
	}
}

// evaluateOutcome decides whether one step's disposition aborts the
// execution. A policy veto aborts unless the workflow opts into
// continue-on-violation; any other failure aborts when the step is required.
func (e *Engine) evaluateOutcome(workflow *models.Workflow, outcome stepOutcome) string {
	if outcome.err != nil {
		if outcome.step.IsRequired() {
			return fmt.Sprintf("step %s: %v", outcome.step.Name, outcome.err)
		}

		return ""
	}

	result := outcome.result

	if result.Status == models.ActionVetoed {
		if workflow.ContinueOnViolation {
			return ""
		}

		message := "blocked by policy"
		if len(result.Errors) > 0 {
			message = result.Errors[0]
		}

		return fmt.Sprintf("step %s vetoed: %s", outcome.step.Name, message)
	}

	if result.Success {
		return ""
	}

	if !outcome.step.IsRequired() {
		return ""
	}

	message := string(result.Status)
	if len(result.Errors) > 0 {
		message = result.Errors[0]
	}

	return fmt.Sprintf("required step %s %s: %s", outcome.step.Name, result.Status, message)
}

func (e *Engine) finishStats(status models.ExecutionStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch status {
	case models.ExecutionCompleted:
		e.stats.Completed++
	case models.ExecutionFailed:
		e.stats.Failed++
	case models.ExecutionTimedOut:
		e.stats.TimedOut++
	case models.ExecutionAborted:
		e.stats.Aborted++
	}
}
