// Package file implements the definition store on a plain directory tree:
// one JSON file per document, one subdirectory per collection. Suited to
// development and to deployments that keep definitions in version control.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/citygrid/sentinel/pkg/models"
	"github.com/citygrid/sentinel/pkg/persistence"
)

const (
	workflowsDir = "workflows"
	bindingsDir  = "policies"
	resourcesDir = "resources"

	dirMode  = 0750
	fileMode = 0600
)

// Store implements persistence.Store on the file system.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory. A "file://" prefix
// is stripped so database-URL style configuration works.
func NewStore(root string) *Store {
	return &Store{root: strings.Replace(root, "file://", "", 1)}
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (s *Store) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := s.list(workflowsDir)
	if err != nil {
		return nil, persistence.NewStoreError("Workflows", "", err)
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := s.WorkflowByID(ctx, id)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

func (s *Store) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := s.read(workflowsDir, id, &workflow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStoreError("WorkflowByID", id, err)
	}

	return &workflow, nil
}

func (s *Store) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	err := s.write(workflowsDir, workflow.ID, workflow)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	err := os.Remove(path.Join(s.root, workflowsDir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return persistence.NewStoreError("DeleteWorkflow", id, err)
	}

	return nil
}

func (s *Store) Bindings(_ context.Context) ([]*models.PolicyBinding, error) {
	ids, err := s.list(bindingsDir)
	if err != nil {
		return nil, persistence.NewStoreError("Bindings", "", err)
	}

	bindings := make([]*models.PolicyBinding, 0, len(ids))

	for _, id := range ids {
		var binding models.PolicyBinding

		err := s.read(bindingsDir, id, &binding)
		if err != nil {
			return nil, persistence.NewStoreError("Bindings", id, err)
		}

		bindings = append(bindings, &binding)
	}

	return bindings, nil
}

func (s *Store) SaveBinding(_ context.Context, binding *models.PolicyBinding) error {
	if binding.RegisteredAt.IsZero() {
		binding.RegisteredAt = time.Now().UTC()
	}

	err := s.write(bindingsDir, binding.ID, binding)
	if err != nil {
		return persistence.NewStoreError("SaveBinding", binding.ID, err)
	}

	return nil
}

func (s *Store) Resources(_ context.Context) ([]*models.Resource, error) {
	ids, err := s.list(resourcesDir)
	if err != nil {
		return nil, persistence.NewStoreError("Resources", "", err)
	}

	resources := make([]*models.Resource, 0, len(ids))

	for _, id := range ids {
		var resource models.Resource

		err := s.read(resourcesDir, id, &resource)
		if err != nil {
			return nil, persistence.NewStoreError("Resources", id, err)
		}

		resources = append(resources, &resource)
	}

	return resources, nil
}

func (s *Store) SaveResource(_ context.Context, resource *models.Resource) error {
	if resource.RegisteredAt.IsZero() {
		resource.RegisteredAt = time.Now().UTC()
	}

	err := s.write(resourcesDir, resource.ID, resource)
	if err != nil {
		return persistence.NewStoreError("SaveResource", resource.ID, err)
	}

	return nil
}

func (s *Store) list(collection string) ([]string, error) {
	dir := os.DirFS(path.Join(s.root, collection))

	files, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func (s *Store) read(collection, id string, out any) error {
	filePath := filepath.Clean(path.Join(s.root, collection, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err)
	}

	return nil
}

func (s *Store) write(collection, id string, doc any) error {
	err := os.MkdirAll(path.Join(s.root, collection), dirMode)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}

	return os.WriteFile(path.Join(s.root, collection, id+".json"), data, fileMode)
}
