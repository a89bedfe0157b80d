package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brightfund/review-api/internal/models"
)

// ErrVersionConflict is returned by UpdateMetadata when the row exists but the
// expected version no longer matches.
var ErrVersionConflict = errors.New("submission version conflict")

const submissionColumns = `id, form_id, applicant_name, applicant_email, data, metadata, version, submitted_at`

// submissionRow is the raw shape of a submissions row before the review
// metadata blob is unpacked.
type submissionRow struct {
	ID             string          `db:"id"`
	FormID         string          `db:"form_id"`
	ApplicantName  string          `db:"applicant_name"`
	ApplicantEmail string          `db:"applicant_email"`
	Data           json.RawMessage `db:"data"`
	Metadata       json.RawMessage `db:"metadata"`
	Version        int64           `db:"version"`
	SubmittedAt    time.Time       `db:"submitted_at"`
}

// submissionMetadata is the review state denormalized onto each submission
// row. Every field is optional so rows created before review ever touched
// them unpack to sensible zero values.
type submissionMetadata struct {
	CurrentStageID     string                   `json:"current_stage_id,omitempty"`
	AssignedWorkflowID *string                  `json:"assigned_workflow_id,omitempty"`
	Status             string                   `json:"status,omitempty"`
	TotalScore         *float64                 `json:"total_score,omitempty"`
	MaxScore           float64                  `json:"max_score,omitempty"`
	Scores             map[string]float64       `json:"scores,omitempty"`
	Comments           string                   `json:"comments,omitempty"`
	Tags               []string                 `json:"tags,omitempty"`
	Flagged            bool                     `json:"flagged,omitempty"`
	AssignedReviewers  []string                 `json:"assigned_reviewers,omitempty"`
	RequiredReviews    int                      `json:"required_reviews,omitempty"`
	ReviewHistory      []models.ReviewEntry     `json:"review_history,omitempty"`
	StageHistory       []models.StageTransition `json:"stage_history,omitempty"`
}

func (row *submissionRow) toApplication() (*models.Application, error) {
	var meta submissionMetadata
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal submission metadata: %w", err)
		}
	}
	var raw map[string]interface{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal submission data: %w", err)
		}
	}

	status := models.ApplicationStatus(meta.Status)
	if status == "" {
		status = models.StatusPending
	}

	app := &models.Application{
		ID:                row.ID,
		FormID:            row.FormID,
		ApplicantName:     row.ApplicantName,
		ApplicantEmail:    row.ApplicantEmail,
		WorkflowID:        meta.AssignedWorkflowID,
		StageID:           meta.CurrentStageID,
		Status:            status,
		Score:             meta.TotalScore,
		MaxScore:          meta.MaxScore,
		Scores:            meta.Scores,
		Comments:          meta.Comments,
		AssignedReviewers: meta.AssignedReviewers,
		ReviewCount:       len(distinctReviewers(meta.ReviewHistory)),
		RequiredReviews:   meta.RequiredReviews,
		Tags:              meta.Tags,
		Flagged:           meta.Flagged,
		RawData:           raw,
		ReviewHistory:     meta.ReviewHistory,
		StageHistory:      meta.StageHistory,
		SubmittedAt:       row.SubmittedAt,
		Version:           row.Version,
	}
	if app.AssignedReviewers == nil {
		app.AssignedReviewers = []string{}
	}
	if app.Tags == nil {
		app.Tags = []string{}
	}
	return app, nil
}

// distinctReviewers collapses the review history to one entry per reviewer.
// The review count is always derived this way rather than stored, so repeated
// scoring passes by the same reviewer never inflate it.
func distinctReviewers(history []models.ReviewEntry) map[string]struct{} {
	seen := make(map[string]struct{}, len(history))
	for _, entry := range history {
		seen[entry.ReviewerID] = struct{}{}
	}
	return seen
}

func metadataFromApplication(app *models.Application) submissionMetadata {
	return submissionMetadata{
		CurrentStageID:     app.StageID,
		AssignedWorkflowID: app.WorkflowID,
		Status:             string(app.Status),
		TotalScore:         app.Score,
		MaxScore:           app.MaxScore,
		Scores:             app.Scores,
		Comments:           app.Comments,
		Tags:               app.Tags,
		Flagged:            app.Flagged,
		AssignedReviewers:  app.AssignedReviewers,
		RequiredReviews:    app.RequiredReviews,
		ReviewHistory:      app.ReviewHistory,
		StageHistory:       app.StageHistory,
	}
}

// SubmissionRepository reads and writes applications over the submissions
// table. Review state lives in the metadata JSONB column and is guarded by
// the version column for optimistic concurrency.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// ListByForm returns every application submitted to a form, newest first.
func (r *SubmissionRepository) ListByForm(ctx context.Context, formID string) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE form_id = $1 ORDER BY submitted_at DESC`, submissionColumns)
	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query, formID); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	apps := make([]models.Application, 0, len(rows))
	for i := range rows {
		app, err := rows[i].toApplication()
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, nil
}

// GetByID returns one application.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE id = $1`, submissionColumns)
	var row submissionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toApplication()
}

// UpdateMetadata persists the application's review state under optimistic
// concurrency. The write only lands when the stored version still equals the
// version the caller read; otherwise ErrVersionConflict is returned (or
// sql.ErrNoRows when the row itself is gone).
func (r *SubmissionRepository) UpdateMetadata(ctx context.Context, app *models.Application) error {
	payload, err := json.Marshal(metadataFromApplication(app))
	if err != nil {
		return fmt.Errorf("marshal submission metadata: %w", err)
	}

	const query = `UPDATE submissions SET metadata = $1, version = version + 1 WHERE id = $2 AND version = $3`
	result, err := r.db.ExecContext(ctx, query, payload, app.ID, app.Version)
	if err != nil {
		return fmt.Errorf("update submission metadata: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission metadata rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM submissions WHERE id = $1)`, app.ID); err != nil {
			return fmt.Errorf("check submission exists: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return ErrVersionConflict
	}
	app.Version++
	return nil
}

// ListAssignable returns up to limit applications in random order that are
// candidates for assignment to the given reviewer. Applications already held
// by the reviewer are always excluded; with onlyUnassigned set, applications
// held by anyone are excluded.
func (r *SubmissionRepository) ListAssignable(ctx context.Context, formID, reviewerID string, onlyUnassigned bool, limit int) ([]models.Application, error) {
	// COALESCE keeps never-assigned rows in the pool: a missing key would
	// make the containment check NULL and the NOT drop the row.
	query := fmt.Sprintf(`SELECT %s FROM submissions
        WHERE form_id = $1
        AND NOT COALESCE(metadata -> 'assigned_reviewers', '[]'::jsonb) @> to_jsonb($2::text)`, submissionColumns)
	if onlyUnassigned {
		query += `
        AND COALESCE(jsonb_array_length(metadata -> 'assigned_reviewers'), 0) = 0`
	}
	query += `
        ORDER BY RANDOM() LIMIT $3`

	var rows []submissionRow
	if err := r.db.SelectContext(ctx, &rows, query, formID, reviewerID, limit); err != nil {
		return nil, fmt.Errorf("list assignable submissions: %w", err)
	}
	apps := make([]models.Application, 0, len(rows))
	for i := range rows {
		app, err := rows[i].toApplication()
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, nil
}

// CountByStage returns the number of applications currently sitting in each
// stage of a workflow.
func (r *SubmissionRepository) CountByStage(ctx context.Context, workflowID string) (map[string]int, error) {
	const query = `SELECT metadata ->> 'current_stage_id' AS stage_id, COUNT(*) AS total
        FROM submissions
        WHERE metadata ->> 'assigned_workflow_id' = $1
        AND metadata ->> 'current_stage_id' IS NOT NULL
        GROUP BY metadata ->> 'current_stage_id'`

	var counts []struct {
		StageID string `db:"stage_id"`
		Total   int    `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &counts, query, workflowID); err != nil {
		return nil, fmt.Errorf("count submissions by stage: %w", err)
	}
	result := make(map[string]int, len(counts))
	for _, c := range counts {
		result[c.StageID] = c.Total
	}
	return result, nil
}
