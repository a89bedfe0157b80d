package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

// WorkspaceSettingsRepository handles workspace level engine settings.
type WorkspaceSettingsRepository struct {
	db *sqlx.DB
}

// NewWorkspaceSettingsRepository creates a new workspace settings repository.
func NewWorkspaceSettingsRepository(db *sqlx.DB) *WorkspaceSettingsRepository {
	return &WorkspaceSettingsRepository{db: db}
}

// Get returns the settings row for a workspace.
func (r *WorkspaceSettingsRepository) Get(ctx context.Context, workspaceID string) (*models.WorkspaceSettings, error) {
	const query = `SELECT workspace_id, default_workflow_id, updated_at FROM workspace_settings WHERE workspace_id = $1`
	var settings models.WorkspaceSettings
	if err := r.db.GetContext(ctx, &settings, query, workspaceID); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SetDefaultWorkflow upserts the explicit default workflow for a workspace.
func (r *WorkspaceSettingsRepository) SetDefaultWorkflow(ctx context.Context, workspaceID string, workflowID *string) error {
	const query = `INSERT INTO workspace_settings (workspace_id, default_workflow_id, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (workspace_id)
        DO UPDATE SET default_workflow_id = EXCLUDED.default_workflow_id, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, workspaceID, workflowID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set default workflow: %w", err)
	}
	return nil
}
