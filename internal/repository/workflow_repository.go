package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

// WorkflowRepository handles review workflow persistence.
type WorkflowRepository struct {
	db *sqlx.DB
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// ListByWorkspace returns workflows in creation order. The stable ordering is
// what makes the active-workflow fallback deterministic.
func (r *WorkflowRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Workflow, error) {
	const query = `SELECT id, workspace_id, name, description, is_active, created_at, updated_at
        FROM review_workflows WHERE workspace_id = $1 ORDER BY created_at ASC`
	var workflows []models.Workflow
	if err := r.db.SelectContext(ctx, &workflows, query, workspaceID); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

// GetByID returns a single workflow.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	const query = `SELECT id, workspace_id, name, description, is_active, created_at, updated_at
        FROM review_workflows WHERE id = $1`
	var workflow models.Workflow
	if err := r.db.GetContext(ctx, &workflow, query, id); err != nil {
		return nil, err
	}
	return &workflow, nil
}

// Create inserts a workflow.
func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	const query = `INSERT INTO review_workflows (id, workspace_id, name, description, is_active, created_at, updated_at)
        VALUES (:id, :workspace_id, :name, :description, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, workflow); err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// Update applies a partial update and returns the refreshed row.
func (r *WorkflowRepository) Update(ctx context.Context, id string, update models.WorkflowUpdate) (*models.Workflow, error) {
	query := `UPDATE review_workflows SET updated_at = $1`
	args := []interface{}{time.Now().UTC()}
	if update.Name != nil {
		query += fmt.Sprintf(", name = $%d", len(args)+1)
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		query += fmt.Sprintf(", description = $%d", len(args)+1)
		args = append(args, *update.Description)
	}
	if update.IsActive != nil {
		query += fmt.Sprintf(", is_active = $%d", len(args)+1)
		args = append(args, *update.IsActive)
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, id)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return nil, fmt.Errorf("update workflow %s: no rows affected", id)
	}
	return r.GetByID(ctx, id)
}

// Delete removes a workflow.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM review_workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete workflow %s: no rows affected", id)
	}
	return nil
}
