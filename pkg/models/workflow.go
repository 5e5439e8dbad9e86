package models

import "time"

// TriggerType identifies how a workflow may be started.
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeAPI      TriggerType = "api"
)

// StepMode controls whether a step runs alone or alongside its neighbours.
type StepMode string

const (
	StepModeSequential StepMode = "sequential"
	StepModeParallel   StepMode = "parallel"
)

// WorkflowTrigger declares one way a workflow can be started. Event triggers
// match when the incoming event's type and source appear in the respective
// lists; an empty list means "any". Conditions are evaluated against the
// event payload.
type WorkflowTrigger struct {
	Type         TriggerType `json:"type"                   validate:"required,oneof=event schedule manual api"`
	EventTypes   []string    `json:"event_types,omitempty"`
	EventSources []string    `json:"event_sources,omitempty"`
	CronExpr     string      `json:"cron,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty"`
}

// Matches reports whether an event trigger matches the given event.
func (t *WorkflowTrigger) Matches(eventType, eventSource string, payload map[string]any) bool {
	if t.Type != TriggerTypeEvent {
		return false
	}

	if len(t.EventTypes) > 0 && !containsString(t.EventTypes, eventType) {
		return false
	}

	if len(t.EventSources) > 0 && !containsString(t.EventSources, eventSource) {
		return false
	}

	return EvaluateAll(t.Conditions, payload)
}

// ResourceRequest declares that a step needs exclusive use of a physical
// resource for the duration of its action.
type ResourceRequest struct {
	Type            ResourceType `json:"type"             validate:"required"`
	ResourceID      string       `json:"resource_id,omitempty"`
	DurationMinutes int          `json:"duration_minutes"`
}

// WorkflowStep is one unit of work inside a workflow definition.
type WorkflowStep struct {
	Name       string           `json:"name"                 validate:"required"`
	ActionType string           `json:"action_type"          validate:"required"`
	Target     string           `json:"target"               validate:"required"`
	Parameters map[string]any   `json:"parameters,omitempty"`
	Mode       StepMode         `json:"mode,omitempty"`
	Timeout    Duration         `json:"timeout,omitempty"`
	Guardrails []string         `json:"guardrails,omitempty"`
	Resource   *ResourceRequest `json:"resource,omitempty"`
	Required   *bool            `json:"required,omitempty"`
	Confirm    bool             `json:"requires_confirmation,omitempty"`
}

// IsRequired defaults to true when the flag is absent: a failing or timed-out
// required step aborts the owning execution.
func (s *WorkflowStep) IsRequired() bool {
	if s.Required == nil {
		return true
	}

	return *s.Required
}

// Workflow is an immutable, versioned response definition. Only kernel-held
// run state changes after registration.
type Workflow struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"     validate:"required,min=3"`
	Version             string            `json:"version"`
	Category            EventCategory     `json:"category"`
	Description         string            `json:"description,omitempty"`
	Triggers            []WorkflowTrigger `json:"triggers" validate:"required,min=1,dive"`
	Steps               []WorkflowStep    `json:"steps"    validate:"required,min=1,dive"`
	Guardrails          []string          `json:"guardrails,omitempty"`
	LegalGuardrails     []string          `json:"legal_guardrails,omitempty"`
	EthicalGuardrails   []string          `json:"ethical_guardrails,omitempty"`
	Timeout             Duration          `json:"timeout,omitempty"`
	Priority            int               `json:"priority" validate:"required,min=1,max=5"`
	ContinueOnViolation bool              `json:"continue_on_violation,omitempty"`
	Enabled             bool              `json:"enabled"`
	CreatedAt           time.Time         `json:"created_at"`
}

// AllGuardrails merges the workflow-level guardrail name lists with a step's
// own, preserving order and dropping duplicates.
func (w *Workflow) AllGuardrails(step *WorkflowStep) []string {
	seen := make(map[string]struct{})
	merged := make([]string, 0, len(w.Guardrails)+len(step.Guardrails))

	for _, group := range [][]string{w.Guardrails, w.LegalGuardrails, w.EthicalGuardrails, step.Guardrails} {
		for _, name := range group {
			if _, dup := seen[name]; dup {
				continue
			}

			seen[name] = struct{}{}

			merged = append(merged, name)
		}
	}

	return merged
}
