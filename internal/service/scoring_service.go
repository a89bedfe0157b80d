package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/repository"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type rubricLookup interface {
	GetByID(ctx context.Context, id string) (*models.Rubric, error)
}

type stageTransitioner interface {
	AdvanceAfterApproval(ctx context.Context, app *models.Application) (*models.Application, error)
}

// RecordScoresRequest submits one reviewer's category scores.
type RecordScoresRequest struct {
	ApplicationID string             `json:"application_id" validate:"required"`
	ReviewerID    string             `json:"reviewer_id" validate:"required"`
	Scores        map[string]float64 `json:"scores" validate:"required,min=1"`
	Comments      string             `json:"comments"`
}

// RecordDecisionRequest sets an application's status. Approval triggers
// auto-advance to the next stage.
type RecordDecisionRequest struct {
	ApplicationID string                   `json:"application_id" validate:"required"`
	Status        models.ApplicationStatus `json:"status" validate:"required"`
	Reason        string                   `json:"reason"`
}

// UpdateReviewDetailsRequest mutates the lightweight review annotations.
type UpdateReviewDetailsRequest struct {
	ApplicationID string    `json:"application_id" validate:"required"`
	Tags          *[]string `json:"tags"`
	Flagged       *bool     `json:"flagged"`
	Comments      *string   `json:"comments"`
}

// ScoringService records reviewer scores and review decisions against
// applications.
type ScoringService struct {
	submissions submissionStore
	stages      stageReader
	rubrics     rubricLookup
	transitions stageTransitioner
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewScoringService constructs ScoringService.
func NewScoringService(submissions submissionStore, stages stageReader, rubrics rubricLookup, transitions stageTransitioner, validate *validator.Validate, logger *zap.Logger) *ScoringService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoringService{
		submissions: submissions,
		stages:      stages,
		rubrics:     rubrics,
		transitions: transitions,
		validator:   validate,
		logger:      logger,
	}
}

// RecordScores stores one scoring pass. Category values are clamped to their
// rubric point caps and the total to the rubric maximum. The review history
// gains one entry per pass, but the review count only counts each reviewer
// once.
func (s *ScoringService) RecordScores(ctx context.Context, req RecordScoresRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scores payload")
	}

	for attempt := 0; attempt < metadataUpdateRetries; attempt++ {
		app, err := s.submissions.GetByID(ctx, req.ApplicationID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
		}

		rubric, err := s.rubricFor(ctx, app)
		if err != nil {
			return nil, err
		}
		scores, total, maxScore := normaliseScores(req.Scores, rubric)

		app.Scores = scores
		app.Score = &total
		app.MaxScore = maxScore
		if req.Comments != "" {
			app.Comments = req.Comments
		}
		if app.Status == models.StatusPending {
			app.Status = models.StatusInReview
		}
		app.ReviewHistory = append(app.ReviewHistory, models.ReviewEntry{
			ReviewerID: req.ReviewerID,
			Total:      total,
			Scores:     scores,
			ReviewedAt: time.Now().UTC(),
		})

		err = s.submissions.UpdateMetadata(ctx, app)
		if err == nil {
			reloaded, err := s.submissions.GetByID(ctx, app.ID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload application")
			}
			return reloaded, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save scores")
	}
	return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "application is being modified concurrently")
}

// RecordDecision sets an application's status. Only statuses from the
// standard pipeline or the current stage's custom list are accepted. Setting
// an already-held status is a no-op, so a repeated approval cannot advance
// twice.
func (s *ScoringService) RecordDecision(ctx context.Context, req RecordDecisionRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	for attempt := 0; attempt < metadataUpdateRetries; attempt++ {
		app, err := s.submissions.GetByID(ctx, req.ApplicationID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
		}
		if app.Status == req.Status {
			return app, nil
		}
		if !req.Status.IsBuiltIn() {
			allowed, err := s.statusAllowed(ctx, app, string(req.Status))
			if err != nil {
				return nil, err
			}
			if !allowed {
				return nil, appErrors.Clone(appErrors.ErrValidation, "status not allowed in current stage")
			}
		}

		app.Status = req.Status
		err = s.submissions.UpdateMetadata(ctx, app)
		if err == nil {
			if req.Status == models.StatusApproved {
				return s.transitions.AdvanceAfterApproval(ctx, app)
			}
			return app, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save decision")
	}
	return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "application is being modified concurrently")
}

// UpdateDetails mutates tags, flag and comments without touching scores.
func (s *ScoringService) UpdateDetails(ctx context.Context, req UpdateReviewDetailsRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid details payload")
	}

	for attempt := 0; attempt < metadataUpdateRetries; attempt++ {
		app, err := s.submissions.GetByID(ctx, req.ApplicationID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
		}
		if req.Tags != nil {
			app.Tags = *req.Tags
		}
		if req.Flagged != nil {
			app.Flagged = *req.Flagged
		}
		if req.Comments != nil {
			app.Comments = *req.Comments
		}
		err = s.submissions.UpdateMetadata(ctx, app)
		if err == nil {
			return app, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save details")
	}
	return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "application is being modified concurrently")
}

// RedactPII blanks the fields an application's current stage hides from
// reviewers. With no explicit field list, applicant identity is hidden.
func (s *ScoringService) RedactPII(ctx context.Context, app *models.Application) (*models.Application, error) {
	if app.StageID == "" {
		return app, nil
	}
	stage, err := s.stages.GetByID(ctx, app.StageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return app, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage")
	}
	if !stage.HidePII {
		return app, nil
	}

	redacted := *app
	if len(stage.HiddenPIIFields) == 0 {
		redacted.ApplicantName = ""
		redacted.ApplicantEmail = ""
		return &redacted, nil
	}
	if redacted.RawData != nil {
		data := make(map[string]interface{}, len(redacted.RawData))
		for k, v := range redacted.RawData {
			data[k] = v
		}
		redacted.RawData = data
	}
	for _, field := range stage.HiddenPIIFields {
		switch field {
		case "applicant_name":
			redacted.ApplicantName = ""
		case "applicant_email":
			redacted.ApplicantEmail = ""
		default:
			if redacted.RawData != nil {
				delete(redacted.RawData, field)
			}
		}
	}
	return &redacted, nil
}

func (s *ScoringService) rubricFor(ctx context.Context, app *models.Application) (*models.Rubric, error) {
	if app.StageID == "" {
		return nil, nil
	}
	stage, err := s.stages.GetByID(ctx, app.StageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage")
	}
	if stage.RubricID == nil {
		return nil, nil
	}
	rubric, err := s.rubrics.GetByID(ctx, *stage.RubricID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rubric")
	}
	return rubric, nil
}

func (s *ScoringService) statusAllowed(ctx context.Context, app *models.Application, status string) (bool, error) {
	if app.StageID == "" {
		return false, nil
	}
	stage, err := s.stages.GetByID(ctx, app.StageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage")
	}
	for _, candidate := range stage.CustomStatuses {
		if candidate == status {
			return true, nil
		}
	}
	return false, nil
}

// normaliseScores clamps category values against the rubric and totals them.
// Without a rubric, values pass through and the running max is kept.
func normaliseScores(raw map[string]float64, rubric *models.Rubric) (map[string]float64, float64, float64) {
	scores := make(map[string]float64, len(raw))
	total := 0.0
	maxScore := 0.0
	for id, value := range raw {
		if rubric != nil {
			category := rubric.Category(id)
			if category == nil {
				continue
			}
			if value < 0 {
				value = 0
			}
			if limit := float64(category.Points); value > limit {
				value = limit
			}
		} else if value < 0 {
			value = 0
		}
		scores[id] = value
		total += value
	}
	if rubric != nil {
		maxScore = float64(rubric.MaxScore)
		if total > maxScore {
			total = maxScore
		}
	} else {
		maxScore = total
	}
	return scores, total, maxScore
}
