package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

const reviewerTypeColumns = `id, workspace_id, name, description, permissions, created_at, updated_at`

// ReviewerTypeRepository handles reviewer type persistence.
type ReviewerTypeRepository struct {
	db *sqlx.DB
}

// NewReviewerTypeRepository creates a new reviewer type repository.
func NewReviewerTypeRepository(db *sqlx.DB) *ReviewerTypeRepository {
	return &ReviewerTypeRepository{db: db}
}

// ListByWorkspace returns a workspace's reviewer types.
func (r *ReviewerTypeRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.ReviewerType, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviewer_types WHERE workspace_id = $1 ORDER BY created_at ASC`, reviewerTypeColumns)
	var types []models.ReviewerType
	if err := r.db.SelectContext(ctx, &types, query, workspaceID); err != nil {
		return nil, fmt.Errorf("list reviewer types: %w", err)
	}
	return types, nil
}

// GetByID returns a single reviewer type.
func (r *ReviewerTypeRepository) GetByID(ctx context.Context, id string) (*models.ReviewerType, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviewer_types WHERE id = $1`, reviewerTypeColumns)
	var rType models.ReviewerType
	if err := r.db.GetContext(ctx, &rType, query, id); err != nil {
		return nil, err
	}
	return &rType, nil
}

// Create inserts a reviewer type.
func (r *ReviewerTypeRepository) Create(ctx context.Context, rType *models.ReviewerType) error {
	if rType.ID == "" {
		rType.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rType.CreatedAt = now
	rType.UpdatedAt = now
	const query = `INSERT INTO reviewer_types (id, workspace_id, name, description, permissions, created_at, updated_at)
        VALUES (:id, :workspace_id, :name, :description, :permissions, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rType); err != nil {
		return fmt.Errorf("create reviewer type: %w", err)
	}
	return nil
}

// Update rewrites a reviewer type's mutable fields.
func (r *ReviewerTypeRepository) Update(ctx context.Context, rType *models.ReviewerType) error {
	rType.UpdatedAt = time.Now().UTC()
	const query = `UPDATE reviewer_types SET name = :name, description = :description,
        permissions = :permissions, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, rType)
	if err != nil {
		return fmt.Errorf("update reviewer type: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("update reviewer type %s: no rows affected", rType.ID)
	}
	return nil
}

// Delete removes a reviewer type.
func (r *ReviewerTypeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reviewer_types WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reviewer type: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete reviewer type %s: no rows affected", id)
	}
	return nil
}
