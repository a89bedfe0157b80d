package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

const stageColumns = `id, workflow_id, workspace_id, name, stage_type, description, order_index,
        rubric_id, hide_pii, hidden_pii_fields, custom_statuses, created_at, updated_at`

// StageRepository handles application stage persistence.
type StageRepository struct {
	db *sqlx.DB
}

// NewStageRepository creates a new stage repository.
func NewStageRepository(db *sqlx.DB) *StageRepository {
	return &StageRepository{db: db}
}

// ListByWorkflow returns a workflow's stages sorted by order index.
func (r *StageRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]models.Stage, error) {
	query := fmt.Sprintf(`SELECT %s FROM application_stages WHERE workflow_id = $1 ORDER BY order_index ASC`, stageColumns)
	var stages []models.Stage
	if err := r.db.SelectContext(ctx, &stages, query, workflowID); err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return stages, nil
}

// GetByID returns a single stage.
func (r *StageRepository) GetByID(ctx context.Context, id string) (*models.Stage, error) {
	query := fmt.Sprintf(`SELECT %s FROM application_stages WHERE id = $1`, stageColumns)
	var stage models.Stage
	if err := r.db.GetContext(ctx, &stage, query, id); err != nil {
		return nil, err
	}
	return &stage, nil
}

// CountByWorkflow returns the number of stages in a workflow.
func (r *StageRepository) CountByWorkflow(ctx context.Context, workflowID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM application_stages WHERE workflow_id = $1`, workflowID); err != nil {
		return 0, fmt.Errorf("count stages: %w", err)
	}
	return count, nil
}

// Create inserts a stage. The caller supplies the order index.
func (r *StageRepository) Create(ctx context.Context, stage *models.Stage) error {
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	stage.CreatedAt = now
	stage.UpdatedAt = now
	const query = `INSERT INTO application_stages (id, workflow_id, workspace_id, name, stage_type, description,
            order_index, rubric_id, hide_pii, hidden_pii_fields, custom_statuses, created_at, updated_at)
        VALUES (:id, :workflow_id, :workspace_id, :name, :stage_type, :description,
            :order_index, :rubric_id, :hide_pii, :hidden_pii_fields, :custom_statuses, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, stage); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	return nil
}

// Update applies a partial update and returns the refreshed row.
func (r *StageRepository) Update(ctx context.Context, id string, update models.StageUpdate) (*models.Stage, error) {
	query := `UPDATE application_stages SET updated_at = $1`
	args := []interface{}{time.Now().UTC()}
	if update.Name != nil {
		query += fmt.Sprintf(", name = $%d", len(args)+1)
		args = append(args, *update.Name)
	}
	if update.StageType != nil {
		query += fmt.Sprintf(", stage_type = $%d", len(args)+1)
		args = append(args, *update.StageType)
	}
	if update.Description != nil {
		query += fmt.Sprintf(", description = $%d", len(args)+1)
		args = append(args, *update.Description)
	}
	if update.RubricID != nil {
		query += fmt.Sprintf(", rubric_id = $%d", len(args)+1)
		args = append(args, *update.RubricID)
	}
	if update.HidePII != nil {
		query += fmt.Sprintf(", hide_pii = $%d", len(args)+1)
		args = append(args, *update.HidePII)
	}
	if update.HiddenPIIFields != nil {
		query += fmt.Sprintf(", hidden_pii_fields = $%d", len(args)+1)
		args = append(args, *update.HiddenPIIFields)
	}
	if update.CustomStatuses != nil {
		query += fmt.Sprintf(", custom_statuses = $%d", len(args)+1)
		args = append(args, *update.CustomStatuses)
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, id)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update stage: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return nil, fmt.Errorf("update stage %s: no rows affected", id)
	}
	return r.GetByID(ctx, id)
}

// DeleteAndRenumber removes a stage and rewrites the surviving stages'
// order indexes to a dense 0..N-1 sequence inside one transaction.
func (r *StageRepository) DeleteAndRenumber(ctx context.Context, workflowID, stageID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM application_stages WHERE id = $1 AND workflow_id = $2`, stageID, workflowID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete stage: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete stage %s: no rows affected", stageID)
	}
	var survivorIDs []string
	if err := tx.SelectContext(ctx, &survivorIDs,
		`SELECT id FROM application_stages WHERE workflow_id = $1 ORDER BY order_index ASC`, workflowID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("list surviving stages: %w", err)
	}
	if err := renumberStages(ctx, tx, survivorIDs); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage delete: %w", err)
	}
	return nil
}

// Reorder persists a full stage ordering in one transaction. orderedIDs must
// contain every stage of the workflow exactly once.
func (r *StageRepository) Reorder(ctx context.Context, workflowID string, orderedIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM application_stages WHERE workflow_id = $1`, workflowID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("count stages: %w", err)
	}
	if count != len(orderedIDs) {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("reorder expects %d stages, got %d", count, len(orderedIDs))
	}
	if err := renumberStages(ctx, tx, orderedIDs); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage reorder: %w", err)
	}
	return nil
}

func renumberStages(ctx context.Context, tx *sqlx.Tx, orderedIDs []string) error {
	now := time.Now().UTC()
	for index, id := range orderedIDs {
		result, err := tx.ExecContext(ctx,
			`UPDATE application_stages SET order_index = $1, updated_at = $2 WHERE id = $3`, index, now, id)
		if err != nil {
			return fmt.Errorf("renumber stage %s: %w", id, err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows == 0 {
			return fmt.Errorf("renumber stage %s: no rows affected", id)
		}
	}
	return nil
}
