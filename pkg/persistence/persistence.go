// Package persistence provides the storage abstraction for orchestration
// definitions: workflows, policy bindings and the resource inventory.
// Execution state is deliberately not stored; it lives in memory and is
// rebuilt from events.
package persistence

import (
	"context"

	"github.com/citygrid/sentinel/pkg/models"
)

// Store loads and saves the configuration documents the orchestrator runs
// from.
type Store interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error

	Bindings(ctx context.Context) ([]*models.PolicyBinding, error)
	SaveBinding(ctx context.Context, binding *models.PolicyBinding) error

	Resources(ctx context.Context) ([]*models.Resource, error)
	SaveResource(ctx context.Context, resource *models.Resource) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
