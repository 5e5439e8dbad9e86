// Package postgres implements the definition store on PostgreSQL. Documents
// are kept as JSONB with a thin column index, so schema churn in the models
// does not require migrations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/citygrid/sentinel/pkg/models"
	"github.com/citygrid/sentinel/pkg/persistence"
)

// Store implements persistence.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects, pings and migrates the schema.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: database, logger: logger}

	err = store.migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) Close(_ context.Context) error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (s *Store) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	docs, err := s.selectDocs(ctx, "workflows")
	if err != nil {
		return nil, persistence.NewStoreError("Workflows", "", err)
	}

	workflows := make([]*models.Workflow, 0, len(docs))

	for _, doc := range docs {
		var workflow models.Workflow

		err := json.Unmarshal(doc, &workflow)
		if err != nil {
			return nil, persistence.NewStoreError("Workflows", "", err)
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, nil
}

func (s *Store) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	var doc []byte

	err := s.db.QueryRowContext(ctx, `SELECT doc FROM workflows WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("WorkflowByID", id, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(doc, &workflow)
	if err != nil {
		return nil, persistence.NewStoreError("WorkflowByID", id, err)
	}

	return &workflow, nil
}

func (s *Store) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	err := s.upsertDoc(ctx, "workflows", workflow.ID, workflow.Name, workflow)
	if err != nil {
		return persistence.NewStoreError("SaveWorkflow", workflow.ID, err)
	}

	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewStoreError("DeleteWorkflow", id, err)
	}

	return nil
}

func (s *Store) Bindings(ctx context.Context) ([]*models.PolicyBinding, error) {
	docs, err := s.selectDocs(ctx, "policy_bindings")
	if err != nil {
		return nil, persistence.NewStoreError("Bindings", "", err)
	}

	bindings := make([]*models.PolicyBinding, 0, len(docs))

	for _, doc := range docs {
		var binding models.PolicyBinding

		err := json.Unmarshal(doc, &binding)
		if err != nil {
			return nil, persistence.NewStoreError("Bindings", "", err)
		}

		bindings = append(bindings, &binding)
	}

	return bindings, nil
}

func (s *Store) SaveBinding(ctx context.Context, binding *models.PolicyBinding) error {
	if binding.RegisteredAt.IsZero() {
		binding.RegisteredAt = time.Now().UTC()
	}

	err := s.upsertDoc(ctx, "policy_bindings", binding.ID, binding.Name, binding)
	if err != nil {
		return persistence.NewStoreError("SaveBinding", binding.ID, err)
	}

	return nil
}

func (s *Store) Resources(ctx context.Context) ([]*models.Resource, error) {
	docs, err := s.selectDocs(ctx, "resources")
	if err != nil {
		return nil, persistence.NewStoreError("Resources", "", err)
	}

	resources := make([]*models.Resource, 0, len(docs))

	for _, doc := range docs {
		var resource models.Resource

		err := json.Unmarshal(doc, &resource)
		if err != nil {
			return nil, persistence.NewStoreError("Resources", "", err)
		}

		resources = append(resources, &resource)
	}

	return resources, nil
}

func (s *Store) SaveResource(ctx context.Context, resource *models.Resource) error {
	if resource.RegisteredAt.IsZero() {
		resource.RegisteredAt = time.Now().UTC()
	}

	err := s.upsertDoc(ctx, "resources", resource.ID, resource.Name, resource)
	if err != nil {
		return persistence.NewStoreError("SaveResource", resource.ID, err)
	}

	return nil
}

func (s *Store) selectDocs(ctx context.Context, table string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM `+table+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			s.logger.Error("failed to close rows", "table", table, "error", err)
		}
	}()

	docs := make([][]byte, 0)

	for rows.Next() {
		var doc []byte

		err := rows.Scan(&doc)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}

		docs = append(docs, doc)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}

	return docs, nil
}

func (s *Store) upsertDoc(ctx context.Context, table, id, name string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `
		INSERT INTO ` + table + ` (id, name, doc, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , doc = EXCLUDED.doc
		  , updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query, id, name, data)
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}

	return nil
}
