// Package policy hosts the guardrail binding registry and the check
// operation the kernel consults before dispatching any action.
package policy

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/citygrid/sentinel/pkg/metrics"
	"github.com/citygrid/sentinel/pkg/models"
	"github.com/google/uuid"
)

// Evaluator decides pass/fail for a binding that delegates its verdict to
// code instead of declarative deny conditions. Returning a non-empty message
// overrides the binding's own.
type Evaluator func(ctx context.Context, binding *models.PolicyBinding, action CheckRequest) (passed bool, message string)

// CheckRequest describes the proposed action under evaluation.
type CheckRequest struct {
	ActionID   string
	WorkflowID string
	Workflow   string
	ActionType string
	Guardrails []string
	Parameters map[string]any
}

// ReviewNotifier receives failing warning-severity checks for human review.
// The concrete channel (event bus topic, queue) is an external collaborator.
type ReviewNotifier interface {
	NotifyWarning(ctx context.Context, check models.GuardrailCheck)
}

const defaultHistoryLimit = 10000

// Engine is the in-memory registry of policy bindings plus the append-only
// check history.
type Engine struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	bindings   []*models.PolicyBinding
	byName     map[string]*models.PolicyBinding
	evaluators map[string]Evaluator
	notifier   ReviewNotifier

	history      []models.GuardrailCheck
	historyLimit int
	evaluated    int64
	failed       int64
	blocked      int64
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		logger:       logger.With("module", "policy_engine"),
		byName:       make(map[string]*models.PolicyBinding),
		evaluators:   make(map[string]Evaluator),
		historyLimit: defaultHistoryLimit,
	}
}

// SetReviewNotifier wires the human-review channel for warning failures.
func (e *Engine) SetReviewNotifier(notifier ReviewNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.notifier = notifier
}

// RegisterEvaluator makes a named verdict function available to bindings.
func (e *Engine) RegisterEvaluator(name string, evaluator Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluators[name] = evaluator
}

// Register adds a binding to the registry. Re-registering a name replaces
// the previous binding (last write wins).
func (e *Engine) Register(binding *models.PolicyBinding) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if binding.ID == "" {
		binding.ID = "pol-" + uuid.New().String()[:8]
	}

	binding.RegisteredAt = time.Now().UTC()

	if existing, ok := e.byName[binding.Name]; ok {
		for i, b := range e.bindings {
			if b == existing {
				e.bindings[i] = binding

				break
			}
		}
	} else {
		e.bindings = append(e.bindings, binding)
	}

	e.byName[binding.Name] = binding

	e.logger.Info("Registered policy binding",
		"binding", binding.Name, "type", binding.Type, "severity", binding.Severity)
}

// Bindings returns copies of every registered binding.
func (e *Engine) Bindings() []*models.PolicyBinding {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.PolicyBinding, 0, len(e.bindings))

	for _, binding := range e.bindings {
		copied := *binding
		out = append(out, &copied)
	}

	return out
}

// Applicable returns the enabled bindings whose workflow filter, action
// filter and When conditions all match the request. A binding named in the
// request's guardrail list applies even when its own filters are empty.
func (e *Engine) Applicable(request CheckRequest) []*models.PolicyBinding {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var applicable []*models.PolicyBinding

	for _, binding := range e.bindings {
		if !binding.Enabled {
			continue
		}

		if !e.matches(binding, request) {
			continue
		}

		if !models.EvaluateAll(binding.When, request.Parameters) {
			continue
		}

		applicable = append(applicable, binding)
	}

	return applicable
}

func (e *Engine) matches(binding *models.PolicyBinding, request CheckRequest) bool {
	if containsName(request.Guardrails, binding.Name) {
		return true
	}

	if !matchesFilter(binding.Workflows, request.Workflow) {
		return false
	}

	return matchesFilter(binding.Actions, request.ActionType)
}

// Check evaluates every applicable binding against the proposed action and
// returns one GuardrailCheck per binding. All bindings are fully evaluated;
// a blocking failure never short-circuits past the remaining checks. The
// caller must treat any failing blocking check as a hard veto.
func (e *Engine) Check(ctx context.Context, request CheckRequest) []models.GuardrailCheck {
	applicable := e.Applicable(request)
	checks := make([]models.GuardrailCheck, 0, len(applicable))

	for _, binding := range applicable {
		passed, message := e.verdict(ctx, binding, request)

		check := models.GuardrailCheck{
			ID:         "chk-" + uuid.New().String()[:8],
			BindingID:  binding.ID,
			Binding:    binding.Name,
			WorkflowID: request.WorkflowID,
			ActionID:   request.ActionID,
			ActionType: request.ActionType,
			Passed:     passed,
			Severity:   binding.Severity,
			Message:    message,
			CheckedAt:  time.Now().UTC(),
		}

		checks = append(checks, check)

		verdict := "pass"
		if !passed {
			verdict = "fail"
		}

		metrics.GuardrailChecks.WithLabelValues(string(binding.Severity), verdict).Inc()

		if !passed {
			e.logger.WarnContext(ctx, "Guardrail check failed",
				"binding", binding.Name, "severity", binding.Severity,
				"workflow_id", request.WorkflowID, "action_type", request.ActionType,
				"message", message)
		}
	}

	e.record(ctx, checks)

	return checks
}

func (e *Engine) verdict(ctx context.Context, binding *models.PolicyBinding, request CheckRequest) (bool, string) {
	if binding.Evaluator != "" {
		e.mu.RLock()
		evaluator, ok := e.evaluators[binding.Evaluator]
		e.mu.RUnlock()

		if !ok {
			// Unknown evaluator fails closed for blocking bindings.
			return binding.Severity != models.SeverityBlocking,
				"evaluator " + binding.Evaluator + " not registered"
		}

		passed, message := evaluator(ctx, binding, request)
		if message == "" {
			message = binding.Message
		}

		return passed, message
	}

	if len(binding.Deny) > 0 && models.EvaluateAll(binding.Deny, request.Parameters) {
		return false, binding.Message
	}

	return true, binding.Message
}

func (e *Engine) record(ctx context.Context, checks []models.GuardrailCheck) {
	e.mu.Lock()

	var warnings []models.GuardrailCheck

	for _, check := range checks {
		e.evaluated++

		if !check.Passed {
			e.failed++

			if check.Severity == models.SeverityBlocking {
				e.blocked++
			}

			if check.Severity == models.SeverityWarning {
				warnings = append(warnings, check)
			}
		}
	}

	e.history = append(e.history, checks...)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}

	notifier := e.notifier
	e.mu.Unlock()

	if notifier != nil {
		for _, check := range warnings {
			notifier.NotifyWarning(ctx, check)
		}
	}
}

// History returns the most recent checks, newest last, up to limit
// (0 = all retained).
func (e *Engine) History(limit int) []models.GuardrailCheck {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}

	out := make([]models.GuardrailCheck, limit)
	copy(out, e.history[len(e.history)-limit:])

	return out
}

// Statistics reports counters over the engine's lifetime.
type Statistics struct {
	Bindings  int   `json:"bindings"`
	Evaluated int64 `json:"evaluated"`
	Failed    int64 `json:"failed"`
	Blocked   int64 `json:"blocked"`
}

func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Statistics{
		Bindings:  len(e.bindings),
		Evaluated: e.evaluated,
		Failed:    e.failed,
		Blocked:   e.blocked,
	}
}

// matchesFilter implements the `*`/exact/prefix filter semantics. An empty
// filter list matches everything.
func matchesFilter(filters []string, value string) bool {
	if len(filters) == 0 {
		return true
	}

	for _, filter := range filters {
		if filter == models.PolicyFilterAll || filter == value {
			return true
		}

		if strings.HasSuffix(filter, "*") && strings.HasPrefix(value, strings.TrimSuffix(filter, "*")) {
			return true
		}
	}

	return false
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}
