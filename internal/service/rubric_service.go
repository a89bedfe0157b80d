package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type rubricRepo interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Rubric, error)
	GetByID(ctx context.Context, id string) (*models.Rubric, error)
	Create(ctx context.Context, rubric *models.Rubric) error
	Update(ctx context.Context, rubric *models.Rubric) error
	Delete(ctx context.Context, id string) error
}

// UpsertRubricRequest carries a rubric payload. MaxScore zero derives the cap
// from the category point totals.
type UpsertRubricRequest struct {
	WorkspaceID string                  `json:"workspace_id" validate:"required"`
	Name        string                  `json:"name" validate:"required"`
	Description *string                 `json:"description"`
	MaxScore    int                     `json:"max_score" validate:"min=0"`
	Categories  models.RubricCategories `json:"categories" validate:"required,min=1,dive"`
}

// RubricService manages scoring rubrics.
type RubricService struct {
	rubrics   rubricRepo
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRubricService constructs RubricService.
func NewRubricService(rubrics rubricRepo, validate *validator.Validate, logger *zap.Logger) *RubricService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RubricService{rubrics: rubrics, validator: validate, logger: logger}
}

// List returns a workspace's rubrics.
func (s *RubricService) List(ctx context.Context, workspaceID string) ([]models.Rubric, error) {
	rubrics, err := s.rubrics.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rubrics")
	}
	return rubrics, nil
}

// Get returns one rubric.
func (s *RubricService) Get(ctx context.Context, id string) (*models.Rubric, error) {
	rubric, err := s.rubrics.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rubric not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rubric")
	}
	return rubric, nil
}

// Create validates and stores a new rubric. Category ids are generated when
// absent so score maps can reference them.
func (s *RubricService) Create(ctx context.Context, req UpsertRubricRequest) (*models.Rubric, error) {
	maxScore, categories, err := s.normalise(req)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rubric := &models.Rubric{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Description: req.Description,
		MaxScore:    maxScore,
		Categories:  categories,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.rubrics.Create(ctx, rubric); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rubric")
	}
	return rubric, nil
}

// Update validates and replaces a rubric's definition.
func (s *RubricService) Update(ctx context.Context, id string, req UpsertRubricRequest) (*models.Rubric, error) {
	maxScore, categories, err := s.normalise(req)
	if err != nil {
		return nil, err
	}
	rubric, err := s.rubrics.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rubric not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rubric")
	}
	rubric.Name = req.Name
	rubric.Description = req.Description
	rubric.MaxScore = maxScore
	rubric.Categories = categories
	if err := s.rubrics.Update(ctx, rubric); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rubric")
	}
	return rubric, nil
}

// Delete removes a rubric.
func (s *RubricService) Delete(ctx context.Context, id string) error {
	if err := s.rubrics.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "rubric not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete rubric")
	}
	return nil
}

func (s *RubricService) normalise(req UpsertRubricRequest) (int, models.RubricCategories, error) {
	if err := s.validator.Struct(req); err != nil {
		return 0, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rubric payload")
	}
	categories := make(models.RubricCategories, len(req.Categories))
	copy(categories, req.Categories)
	total := 0
	for i := range categories {
		if categories[i].Name == "" {
			return 0, nil, appErrors.Clone(appErrors.ErrValidation, "category name required")
		}
		if categories[i].Points < 0 {
			return 0, nil, appErrors.Clone(appErrors.ErrValidation, "category points must not be negative")
		}
		if categories[i].ID == "" {
			categories[i].ID = uuid.NewString()
		}
		total += categories[i].Points
	}
	maxScore := req.MaxScore
	if maxScore == 0 {
		maxScore = total
	}
	if maxScore < total {
		return 0, nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("max score %d is below category point total %d", maxScore, total))
	}
	return maxScore, categories, nil
}
