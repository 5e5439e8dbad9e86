package models

import "time"

// PolicyType is the closed set of policy binding categories.
type PolicyType string

const (
	PolicyConstitutional   PolicyType = "constitutional"
	PolicyLegalGuardrail   PolicyType = "legal_guardrail"
	PolicyEthicalGuardrail PolicyType = "ethical_guardrail"
	PolicyDepartmentSOP    PolicyType = "department_sop"
	PolicyUseOfForce       PolicyType = "use_of_force"
	PolicyPrivacy          PolicyType = "privacy"
	PolicyCityGovernance   PolicyType = "city_governance"
	PolicyMoralCompass     PolicyType = "moral_compass"
)

// GuardrailSeverity orders how strongly a failing check weighs on dispatch.
// Only blocking failures veto an action.
type GuardrailSeverity string

const (
	SeverityBlocking      GuardrailSeverity = "blocking"
	SeverityWarning       GuardrailSeverity = "warning"
	SeverityAdvisory      GuardrailSeverity = "advisory"
	SeverityInformational GuardrailSeverity = "informational"
)

// PolicyFilterAll is the wildcard accepted by workflow and action filters.
const PolicyFilterAll = "*"

// PolicyBinding is a named rule evaluated against proposed actions. The
// binding applies when its workflow and action filters match and its When
// conditions hold against the action parameters. The verdict comes from the
// Deny conditions (fail when all match) or a registered evaluator named by
// Evaluator; with neither, the check passes.
type PolicyBinding struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"     validate:"required"`
	Type         PolicyType        `json:"type"     validate:"required"`
	Severity     GuardrailSeverity `json:"severity" validate:"required,oneof=blocking warning advisory informational"`
	Workflows    []string          `json:"workflows,omitempty"`
	Actions      []string          `json:"actions,omitempty"`
	When         []Condition       `json:"when,omitempty"`
	Deny         []Condition       `json:"deny,omitempty"`
	Evaluator    string            `json:"evaluator,omitempty"`
	Message      string            `json:"message,omitempty"`
	Enabled      bool              `json:"enabled"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// GuardrailCheck is the append-only audit record of evaluating one binding
// against one action.
type GuardrailCheck struct {
	ID         string            `json:"id"`
	BindingID  string            `json:"binding_id"`
	Binding    string            `json:"binding_name"`
	WorkflowID string            `json:"workflow_id"`
	ActionID   string            `json:"action_id"`
	ActionType string            `json:"action_type"`
	Passed     bool              `json:"passed"`
	Severity   GuardrailSeverity `json:"severity"`
	Message    string            `json:"message,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Blocks reports whether this check alone vetoes dispatch.
func (c GuardrailCheck) Blocks() bool {
	return !c.Passed && c.Severity == SeverityBlocking
}
