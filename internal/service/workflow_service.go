package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type workflowRepo interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Create(ctx context.Context, workflow *models.Workflow) error
	Update(ctx context.Context, id string, update models.WorkflowUpdate) (*models.Workflow, error)
	Delete(ctx context.Context, id string) error
}

type stageRepo interface {
	ListByWorkflow(ctx context.Context, workflowID string) ([]models.Stage, error)
	GetByID(ctx context.Context, id string) (*models.Stage, error)
	CountByWorkflow(ctx context.Context, workflowID string) (int, error)
	Create(ctx context.Context, stage *models.Stage) error
	Update(ctx context.Context, id string, update models.StageUpdate) (*models.Stage, error)
	DeleteAndRenumber(ctx context.Context, workflowID, stageID string) error
	Reorder(ctx context.Context, workflowID string, orderedIDs []string) error
}

type stageConfigRepo interface {
	ListByStage(ctx context.Context, stageID string) ([]models.StageReviewerConfig, error)
	ListByStages(ctx context.Context, stageIDs []string) (map[string][]models.StageReviewerConfig, error)
	GetByID(ctx context.Context, id string) (*models.StageReviewerConfig, error)
	Create(ctx context.Context, config *models.StageReviewerConfig) error
	Update(ctx context.Context, config *models.StageReviewerConfig) error
	Delete(ctx context.Context, id string) error
}

type settingsRepo interface {
	Get(ctx context.Context, workspaceID string) (*models.WorkspaceSettings, error)
	SetDefaultWorkflow(ctx context.Context, workspaceID string, workflowID *string) error
}

type rubricReader interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Rubric, error)
	GetByID(ctx context.Context, id string) (*models.Rubric, error)
}

type reviewerTypeReader interface {
	ListByWorkspace(ctx context.Context, workspaceID string) ([]models.ReviewerType, error)
	GetByID(ctx context.Context, id string) (*models.ReviewerType, error)
}

// CreateWorkflowRequest carries a new workflow payload.
type CreateWorkflowRequest struct {
	WorkspaceID string  `json:"workspace_id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description"`
	IsActive    bool    `json:"is_active"`
}

// CreateStageRequest carries a new stage payload. The stage is appended at
// the end of its workflow's ordering.
type CreateStageRequest struct {
	WorkflowID      string             `json:"workflow_id" validate:"required"`
	WorkspaceID     string             `json:"workspace_id" validate:"required"`
	Name            string             `json:"name" validate:"required"`
	StageType       models.StageType   `json:"stage_type" validate:"omitempty,oneof=review processing"`
	Description     *string            `json:"description"`
	RubricID        *string            `json:"rubric_id"`
	HidePII         bool               `json:"hide_pii"`
	HiddenPIIFields models.StringSlice `json:"hidden_pii_fields"`
	CustomStatuses  models.StringSlice `json:"custom_statuses"`
}

// ReorderStagesRequest moves one stage before another within a workflow.
// TargetStageID empty means "move to the end".
type ReorderStagesRequest struct {
	WorkflowID    string `json:"workflow_id" validate:"required"`
	StageID       string `json:"stage_id" validate:"required"`
	TargetStageID string `json:"target_stage_id"`
}

// UpsertStageConfigRequest binds a reviewer type to a stage.
type UpsertStageConfigRequest struct {
	StageID            string  `json:"stage_id" validate:"required"`
	ReviewerTypeID     string  `json:"reviewer_type_id" validate:"required"`
	RubricID           *string `json:"rubric_id"`
	MinReviewsRequired int     `json:"min_reviews_required" validate:"min=0"`
	IsPrimary          bool    `json:"is_primary"`
}

// WorkflowService manages workflows, their stage orderings and reviewer
// configurations for a workspace.
type WorkflowService struct {
	workflows     workflowRepo
	stages        stageRepo
	configs       stageConfigRepo
	settings      settingsRepo
	rubrics       rubricReader
	reviewerTypes reviewerTypeReader
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewWorkflowService constructs WorkflowService.
func NewWorkflowService(workflows workflowRepo, stages stageRepo, configs stageConfigRepo, settings settingsRepo, rubrics rubricReader, reviewerTypes reviewerTypeReader, validate *validator.Validate, logger *zap.Logger) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		workflows:     workflows,
		stages:        stages,
		configs:       configs,
		settings:      settings,
		rubrics:       rubrics,
		reviewerTypes: reviewerTypes,
		validator:     validate,
		logger:        logger,
	}
}

// ListWorkflows returns a workspace's workflows.
func (s *WorkflowService) ListWorkflows(ctx context.Context, workspaceID string) ([]models.Workflow, error) {
	workflows, err := s.workflows.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list workflows")
	}
	return workflows, nil
}

// GetWorkflow returns one workflow.
func (s *WorkflowService) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workflow")
	}
	return workflow, nil
}

// CreateWorkflow creates a workflow.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (*models.Workflow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid workflow payload")
	}
	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:          uuid.NewString(),
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.workflows.Create(ctx, workflow); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create workflow")
	}
	return workflow, nil
}

// UpdateWorkflow applies a partial update.
func (s *WorkflowService) UpdateWorkflow(ctx context.Context, id string, update models.WorkflowUpdate) (*models.Workflow, error) {
	workflow, err := s.workflows.Update(ctx, id, update)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update workflow")
	}
	return workflow, nil
}

// DeleteWorkflow removes a workflow. Workflows that still have stages cannot
// be deleted.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, id string) error {
	count, err := s.stages.CountByWorkflow(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count stages")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "workflow still has stages")
	}
	if err := s.workflows.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete workflow")
	}
	return nil
}

// ResolveDefaultWorkflow picks the workflow new applications should enter.
// The workspace's explicit default wins when it still exists; otherwise the
// earliest created active workflow, then the earliest created workflow at all.
func (s *WorkflowService) ResolveDefaultWorkflow(ctx context.Context, workspaceID string) (*models.Workflow, error) {
	settings, err := s.settings.Get(ctx, workspaceID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workspace settings")
	}
	if settings != nil && settings.DefaultWorkflowID != nil {
		workflow, err := s.workflows.GetByID(ctx, *settings.DefaultWorkflowID)
		if err == nil {
			return workflow, nil
		}
		if err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load default workflow")
		}
		s.logger.Warn("configured default workflow missing, falling back", zap.String("workspace_id", workspaceID))
	}
	workflows, err := s.workflows.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list workflows")
	}
	if len(workflows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace has no workflows")
	}
	// ListByWorkspace orders by created_at, so the first active hit is the
	// earliest created one.
	for i := range workflows {
		if workflows[i].IsActive {
			return &workflows[i], nil
		}
	}
	return &workflows[0], nil
}

// SetDefaultWorkflow records the workspace's explicit default. Passing nil
// clears it.
func (s *WorkflowService) SetDefaultWorkflow(ctx context.Context, workspaceID string, workflowID *string) error {
	if workflowID != nil {
		if _, err := s.workflows.GetByID(ctx, *workflowID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workflow")
		}
	}
	if err := s.settings.SetDefaultWorkflow(ctx, workspaceID, workflowID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set default workflow")
	}
	return nil
}

// ListStages returns a workflow's stages in order with their reviewer configs.
func (s *WorkflowService) ListStages(ctx context.Context, workflowID string) ([]models.StageWithConfigs, error) {
	stages, err := s.stages.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stages")
	}
	return s.attachConfigs(ctx, stages)
}

func (s *WorkflowService) attachConfigs(ctx context.Context, stages []models.Stage) ([]models.StageWithConfigs, error) {
	ids := make([]string, 0, len(stages))
	for _, stage := range stages {
		ids = append(ids, stage.ID)
	}
	configsByStage, err := s.configs.ListByStages(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stage configs")
	}
	result := make([]models.StageWithConfigs, 0, len(stages))
	for _, stage := range stages {
		configs := configsByStage[stage.ID]
		if configs == nil {
			configs = []models.StageReviewerConfig{}
		}
		result = append(result, models.StageWithConfigs{Stage: stage, ReviewerConfigs: configs})
	}
	return result, nil
}

// GetStage returns one stage with its reviewer configs.
func (s *WorkflowService) GetStage(ctx context.Context, id string) (*models.StageWithConfigs, error) {
	stage, err := s.stages.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage")
	}
	configs, err := s.configs.ListByStage(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stage configs")
	}
	return &models.StageWithConfigs{Stage: *stage, ReviewerConfigs: configs}, nil
}

// CreateStage appends a new stage to the end of its workflow.
func (s *WorkflowService) CreateStage(ctx context.Context, req CreateStageRequest) (*models.Stage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid stage payload")
	}
	if _, err := s.workflows.GetByID(ctx, req.WorkflowID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workflow")
	}
	if req.RubricID != nil {
		if _, err := s.rubrics.GetByID(ctx, *req.RubricID); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "rubric not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rubric")
		}
	}
	count, err := s.stages.CountByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count stages")
	}
	stageType := req.StageType
	if stageType == "" {
		stageType = models.StageTypeReview
	}
	now := time.Now().UTC()
	stage := &models.Stage{
		ID:              uuid.NewString(),
		WorkflowID:      req.WorkflowID,
		WorkspaceID:     req.WorkspaceID,
		Name:            req.Name,
		StageType:       stageType,
		Description:     req.Description,
		OrderIndex:      count,
		RubricID:        req.RubricID,
		HidePII:         req.HidePII,
		HiddenPIIFields: req.HiddenPIIFields,
		CustomStatuses:  req.CustomStatuses,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.stages.Create(ctx, stage); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create stage")
	}
	return stage, nil
}

// UpdateStage applies a partial update. Order changes go through ReorderStage.
func (s *WorkflowService) UpdateStage(ctx context.Context, id string, update models.StageUpdate) (*models.Stage, error) {
	if update.RubricID != nil && *update.RubricID != "" {
		if _, err := s.rubrics.GetByID(ctx, *update.RubricID); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "rubric not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rubric")
		}
	}
	stage, err := s.stages.Update(ctx, id, update)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update stage")
	}
	return stage, nil
}

// DeleteStage removes a stage and renumbers the survivors so order indexes
// stay dense.
func (s *WorkflowService) DeleteStage(ctx context.Context, id string) error {
	stage, err := s.stages.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "stage not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage")
	}
	if err := s.stages.DeleteAndRenumber(ctx, stage.WorkflowID, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete stage")
	}
	return nil
}

// ReorderStage moves a stage in front of a target stage, or to the end when
// no target is given, and renumbers the whole workflow in one transaction.
func (s *WorkflowService) ReorderStage(ctx context.Context, req ReorderStagesRequest) ([]models.Stage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reorder payload")
	}
	stages, err := s.stages.ListByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stages")
	}

	ordered := make([]string, 0, len(stages))
	found := false
	for _, stage := range stages {
		if stage.ID == req.StageID {
			found = true
			continue
		}
		ordered = append(ordered, stage.ID)
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found in workflow")
	}

	insertAt := len(ordered)
	if req.TargetStageID != "" && req.TargetStageID != req.StageID {
		insertAt = -1
		for i, id := range ordered {
			if id == req.TargetStageID {
				insertAt = i
				break
			}
		}
		if insertAt == -1 {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "target stage not found in workflow")
		}
	}
	ordered = append(ordered, "")
	copy(ordered[insertAt+1:], ordered[insertAt:])
	ordered[insertAt] = req.StageID

	if err := s.stages.Reorder(ctx, req.WorkflowID, ordered); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reorder stages")
	}
	reordered, err := s.stages.ListByWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload stages")
	}
	return reordered, nil
}

// CreateStageConfig binds a reviewer type to a stage.
func (s *WorkflowService) CreateStageConfig(ctx context.Context, req UpsertStageConfigRequest) (*models.StageReviewerConfig, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid stage config payload")
	}
	if _, err := s.stages.GetByID(ctx, req.StageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stage not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage")
	}
	if _, err := s.reviewerTypes.GetByID(ctx, req.ReviewerTypeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reviewer type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer type")
	}
	config := &models.StageReviewerConfig{
		ID:                 uuid.NewString(),
		StageID:            req.StageID,
		ReviewerTypeID:     req.ReviewerTypeID,
		RubricID:           req.RubricID,
		MinReviewsRequired: req.MinReviewsRequired,
		IsPrimary:          req.IsPrimary,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.configs.Create(ctx, config); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create stage config")
	}
	return config, nil
}

// UpdateStageConfig replaces a stage reviewer configuration.
func (s *WorkflowService) UpdateStageConfig(ctx context.Context, id string, req UpsertStageConfigRequest) (*models.StageReviewerConfig, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid stage config payload")
	}
	config, err := s.configs.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stage config not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stage config")
	}
	config.ReviewerTypeID = req.ReviewerTypeID
	config.RubricID = req.RubricID
	config.MinReviewsRequired = req.MinReviewsRequired
	config.IsPrimary = req.IsPrimary
	if err := s.configs.Update(ctx, config); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update stage config")
	}
	return config, nil
}

// DeleteStageConfig removes a stage reviewer configuration.
func (s *WorkflowService) DeleteStageConfig(ctx context.Context, id string) error {
	if err := s.configs.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "stage config not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete stage config")
	}
	return nil
}

// Snapshot assembles everything a review client needs about a workspace in a
// single call. The independent reads run concurrently.
func (s *WorkflowService) Snapshot(ctx context.Context, workspaceID string) (*models.WorkspaceSnapshot, error) {
	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		firstErr      error
		workflows     []models.Workflow
		rubrics       []models.Rubric
		reviewerTypes []models.ReviewerType
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil && err != nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		list, err := s.workflows.ListByWorkspace(ctx, workspaceID)
		record(err)
		workflows = list
	}()
	go func() {
		defer wg.Done()
		list, err := s.rubrics.ListByWorkspace(ctx, workspaceID)
		record(err)
		rubrics = list
	}()
	go func() {
		defer wg.Done()
		list, err := s.reviewerTypes.ListByWorkspace(ctx, workspaceID)
		record(err)
		reviewerTypes = list
	}()
	wg.Wait()
	if firstErr != nil {
		return nil, appErrors.Wrap(firstErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load workspace snapshot")
	}

	snapshot := &models.WorkspaceSnapshot{
		Workflows:     workflows,
		Rubrics:       rubrics,
		ReviewerTypes: reviewerTypes,
		Stages:        []models.StageWithConfigs{},
	}
	for _, workflow := range workflows {
		stages, err := s.ListStages(ctx, workflow.ID)
		if err != nil {
			return nil, err
		}
		snapshot.Stages = append(snapshot.Stages, stages...)
	}
	return snapshot, nil
}
