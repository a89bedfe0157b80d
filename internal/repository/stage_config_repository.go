package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

const stageConfigColumns = `id, stage_id, reviewer_type_id, rubric_id, min_reviews_required, is_primary, created_at`

// StageConfigRepository handles stage reviewer configuration persistence.
type StageConfigRepository struct {
	db *sqlx.DB
}

// NewStageConfigRepository creates a new stage config repository.
func NewStageConfigRepository(db *sqlx.DB) *StageConfigRepository {
	return &StageConfigRepository{db: db}
}

// ListByStage returns a stage's reviewer configurations.
func (r *StageConfigRepository) ListByStage(ctx context.Context, stageID string) ([]models.StageReviewerConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_reviewer_configs WHERE stage_id = $1 ORDER BY created_at ASC`, stageConfigColumns)
	var configs []models.StageReviewerConfig
	if err := r.db.SelectContext(ctx, &configs, query, stageID); err != nil {
		return nil, fmt.Errorf("list stage configs: %w", err)
	}
	return configs, nil
}

// ListByStages bulk-fetches configurations keyed by stage ID.
func (r *StageConfigRepository) ListByStages(ctx context.Context, stageIDs []string) (map[string][]models.StageReviewerConfig, error) {
	result := make(map[string][]models.StageReviewerConfig, len(stageIDs))
	if len(stageIDs) == 0 {
		return result, nil
	}
	placeholders := make([]string, len(stageIDs))
	args := make([]interface{}, len(stageIDs))
	for i, id := range stageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM stage_reviewer_configs WHERE stage_id IN (%s) ORDER BY created_at ASC`,
		stageConfigColumns, strings.Join(placeholders, ","))
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage configs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var config models.StageReviewerConfig
		if err := rows.StructScan(&config); err != nil {
			return nil, fmt.Errorf("scan stage config: %w", err)
		}
		result[config.StageID] = append(result[config.StageID], config)
	}
	return result, nil
}

// GetByID returns a single configuration.
func (r *StageConfigRepository) GetByID(ctx context.Context, id string) (*models.StageReviewerConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM stage_reviewer_configs WHERE id = $1`, stageConfigColumns)
	var config models.StageReviewerConfig
	if err := r.db.GetContext(ctx, &config, query, id); err != nil {
		return nil, err
	}
	return &config, nil
}

// Create inserts a configuration. Marking it primary demotes any existing
// primary config of the same stage in the same transaction.
func (r *StageConfigRepository) Create(ctx context.Context, config *models.StageReviewerConfig) error {
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	config.CreatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if config.IsPrimary {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_reviewer_configs SET is_primary = FALSE WHERE stage_id = $1`, config.StageID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("demote primary configs: %w", err)
		}
	}
	const query = `INSERT INTO stage_reviewer_configs (id, stage_id, reviewer_type_id, rubric_id, min_reviews_required, is_primary, created_at)
        VALUES (:id, :stage_id, :reviewer_type_id, :rubric_id, :min_reviews_required, :is_primary, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, config); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create stage config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage config: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a configuration.
func (r *StageConfigRepository) Update(ctx context.Context, config *models.StageReviewerConfig) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if config.IsPrimary {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_reviewer_configs SET is_primary = FALSE WHERE stage_id = $1 AND id <> $2`,
			config.StageID, config.ID); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("demote primary configs: %w", err)
		}
	}
	const query = `UPDATE stage_reviewer_configs SET reviewer_type_id = :reviewer_type_id, rubric_id = :rubric_id,
        min_reviews_required = :min_reviews_required, is_primary = :is_primary WHERE id = :id`
	result, err := tx.NamedExecContext(ctx, query, config)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update stage config: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update stage config %s: no rows affected", config.ID)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage config: %w", err)
	}
	return nil
}

// Delete removes a configuration.
func (r *StageConfigRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM stage_reviewer_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stage config: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("delete stage config %s: no rows affected", id)
	}
	return nil
}
