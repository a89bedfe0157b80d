package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

const rubricColumns = `id, workspace_id, name, description, max_score, categories, created_at, updated_at`

// RubricRepository handles rubric persistence.
type RubricRepository struct {
	db *sqlx.DB
}

// NewRubricRepository creates a new rubric repository.
func NewRubricRepository(db *sqlx.DB) *RubricRepository {
	return &RubricRepository{db: db}
}

// ListByWorkspace returns a workspace's rubrics.
func (r *RubricRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Rubric, error) {
	query := fmt.Sprintf(`SELECT %s FROM rubrics WHERE workspace_id = $1 ORDER BY created_at ASC`, rubricColumns)
	var rubrics []models.Rubric
	if err := r.db.SelectContext(ctx, &rubrics, query, workspaceID); err != nil {
		return nil, fmt.Errorf("list rubrics: %w", err)
	}
	return rubrics, nil
}

// GetByID returns a single rubric.
func (r *RubricRepository) GetByID(ctx context.Context, id string) (*models.Rubric, error) {
	query := fmt.Sprintf(`SELECT %s FROM rubrics WHERE id = $1`, rubricColumns)
	var rubric models.Rubric
	if err := r.db.GetContext(ctx, &rubric, query, id); err != nil {
		return nil, err
	}
	return &rubric, nil
}

// Create inserts a rubric.
func (r *RubricRepository) Create(ctx context.Context, rubric *models.Rubric) error {
	if rubric.ID == "" {
		rubric.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rubric.CreatedAt = now
	rubric.UpdatedAt = now
	const query = `INSERT INTO rubrics (id, workspace_id, name, description, max_score, categories, created_at, updated_at)
        VALUES (:id, :workspace_id, :name, :description, :max_score, :categories, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rubric); err != nil {
		return fmt.Errorf("create rubric: %w", err)
	}
	return nil
}

// Update rewrites a rubric's mutable fields.
func (r *RubricRepository) Update(ctx context.Context, rubric *models.Rubric) error {
	rubric.UpdatedAt = time.Now().UTC()
	const query = `UPDATE rubrics SET name = :name, description = :description, max_score = :max_score,
        categories = :categories, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, rubric)
	if err != nil {
		return fmt.Errorf("update rubric: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("update rubric %s: no rows affected", rubric.ID)
	}
	return nil
}

// Delete removes a rubric.
func (r *RubricRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rubrics WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rubric: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete rubric %s: no rows affected", id)
	}
	return nil
}
