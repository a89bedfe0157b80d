package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

const reviewerColumns = `id, form_id, reviewer_type_id, name, email, token_hash, status, created_at, updated_at`

// ReviewerRepository handles reviewer persistence.
type ReviewerRepository struct {
	db *sqlx.DB
}

// NewReviewerRepository creates a new reviewer repository.
func NewReviewerRepository(db *sqlx.DB) *ReviewerRepository {
	return &ReviewerRepository{db: db}
}

// ListByForm returns reviewers registered for a form.
func (r *ReviewerRepository) ListByForm(ctx context.Context, formID string) ([]models.Reviewer, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviewers WHERE form_id = $1 ORDER BY created_at ASC`, reviewerColumns)
	var reviewers []models.Reviewer
	if err := r.db.SelectContext(ctx, &reviewers, query, formID); err != nil {
		return nil, fmt.Errorf("list reviewers: %w", err)
	}
	return reviewers, nil
}

// GetByID returns a single reviewer.
func (r *ReviewerRepository) GetByID(ctx context.Context, id string) (*models.Reviewer, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviewers WHERE id = $1`, reviewerColumns)
	var reviewer models.Reviewer
	if err := r.db.GetContext(ctx, &reviewer, query, id); err != nil {
		return nil, err
	}
	return &reviewer, nil
}

// GetByEmail returns the reviewer registered with the email on a form.
func (r *ReviewerRepository) GetByEmail(ctx context.Context, formID, email string) (*models.Reviewer, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviewers WHERE form_id = $1 AND LOWER(email) = LOWER($2)`, reviewerColumns)
	var reviewer models.Reviewer
	if err := r.db.GetContext(ctx, &reviewer, query, formID, email); err != nil {
		return nil, err
	}
	return &reviewer, nil
}

// Create inserts a reviewer.
func (r *ReviewerRepository) Create(ctx context.Context, reviewer *models.Reviewer) error {
	if reviewer.ID == "" {
		reviewer.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	reviewer.CreatedAt = now
	reviewer.UpdatedAt = now
	const query = `INSERT INTO reviewers (id, form_id, reviewer_type_id, name, email, token_hash, status, created_at, updated_at)
        VALUES (:id, :form_id, :reviewer_type_id, :name, :email, :token_hash, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, reviewer); err != nil {
		return fmt.Errorf("create reviewer: %w", err)
	}
	return nil
}

// UpdateStatus sets a reviewer's lifecycle status.
func (r *ReviewerRepository) UpdateStatus(ctx context.Context, id string, status models.ReviewerStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reviewers SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update reviewer status: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("update reviewer %s: no rows affected", id)
	}
	return nil
}

// Delete removes a reviewer.
func (r *ReviewerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reviewers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reviewer: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete reviewer %s: no rows affected", id)
	}
	return nil
}
