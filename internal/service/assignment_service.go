package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/repository"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

// metadataUpdateRetries bounds the optimistic retry loop on version conflicts.
const metadataUpdateRetries = 3

type submissionStore interface {
	ListByForm(ctx context.Context, formID string) ([]models.Application, error)
	GetByID(ctx context.Context, id string) (*models.Application, error)
	UpdateMetadata(ctx context.Context, app *models.Application) error
	ListAssignable(ctx context.Context, formID, reviewerID string, onlyUnassigned bool, limit int) ([]models.Application, error)
}

type reviewerReader interface {
	GetByID(ctx context.Context, id string) (*models.Reviewer, error)
}

type workflowResolver interface {
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ResolveDefaultWorkflow(ctx context.Context, workspaceID string) (*models.Workflow, error)
	ListStages(ctx context.Context, workflowID string) ([]models.StageWithConfigs, error)
}

// AssignReviewerRequest distributes applications to one reviewer. Strategy
// "random" samples Count candidates; "manual" assigns the listed ids.
type AssignReviewerRequest struct {
	FormID         string   `json:"form_id" validate:"required"`
	ReviewerID     string   `json:"reviewer_id" validate:"required"`
	Strategy       string   `json:"strategy" validate:"required,oneof=random manual"`
	Count          int      `json:"count"`
	OnlyUnassigned bool     `json:"only_unassigned"`
	ApplicationIDs []string `json:"application_ids"`
}

// AssignReviewerResult reports how many applications were newly assigned.
type AssignReviewerResult struct {
	AssignedCount  int      `json:"assigned_count"`
	SkippedCount   int      `json:"skipped_count"`
	ApplicationIDs []string `json:"application_ids"`
}

// BulkAssignWorkflowRequest places a batch of applications into a workflow's
// first stage. FormID scopes cache invalidation after the batch lands.
type BulkAssignWorkflowRequest struct {
	FormID         string   `json:"form_id"`
	WorkflowID     string   `json:"workflow_id" validate:"required"`
	ApplicationIDs []string `json:"application_ids" validate:"required,min=1"`
}

// BulkAssignFailure captures one failed batch item.
type BulkAssignFailure struct {
	ApplicationID string `json:"application_id"`
	Reason        string `json:"reason"`
}

// BulkAssignResult summarises a bulk workflow assignment.
type BulkAssignResult struct {
	SuccessCount int                 `json:"success_count"`
	Failures     []BulkAssignFailure `json:"failures,omitempty"`
}

// AssignmentService distributes applications to reviewers and places
// submissions into workflows.
type AssignmentService struct {
	submissions submissionStore
	reviewers   reviewerReader
	workflows   workflowResolver
	workers     int
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAssignmentService constructs AssignmentService. workers bounds the bulk
// assignment pool.
func NewAssignmentService(submissions submissionStore, reviewers reviewerReader, workflows workflowResolver, workers int, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 4
	}
	return &AssignmentService{
		submissions: submissions,
		reviewers:   reviewers,
		workflows:   workflows,
		workers:     workers,
		validator:   validate,
		logger:      logger,
	}
}

// AssignReviewer runs one assignment pass. Applications the reviewer already
// holds are skipped, so repeating a request never double-assigns.
func (s *AssignmentService) AssignReviewer(ctx context.Context, req AssignReviewerRequest) (*AssignReviewerResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	reviewer, err := s.reviewers.GetByID(ctx, req.ReviewerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reviewer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer")
	}
	if reviewer.FormID != req.FormID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reviewer does not belong to this form")
	}

	var candidates []models.Application
	switch req.Strategy {
	case "random":
		if req.Count <= 0 {
			return &AssignReviewerResult{ApplicationIDs: []string{}}, nil
		}
		candidates, err = s.submissions.ListAssignable(ctx, req.FormID, req.ReviewerID, req.OnlyUnassigned, req.Count)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidates")
		}
	case "manual":
		if len(req.ApplicationIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "application ids required for manual assignment")
		}
		for _, id := range req.ApplicationIDs {
			app, err := s.submissions.GetByID(ctx, id)
			if err != nil {
				if err == sql.ErrNoRows {
					return nil, appErrors.Clone(appErrors.ErrNotFound, "application "+id+" not found")
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
			}
			if app.FormID != req.FormID {
				return nil, appErrors.Clone(appErrors.ErrValidation, "application "+id+" does not belong to this form")
			}
			candidates = append(candidates, *app)
		}
	}

	result := &AssignReviewerResult{ApplicationIDs: []string{}}
	for i := range candidates {
		assigned, err := s.assignOne(ctx, candidates[i].ID, req.ReviewerID)
		if err != nil {
			return nil, err
		}
		if assigned {
			result.AssignedCount++
			result.ApplicationIDs = append(result.ApplicationIDs, candidates[i].ID)
		} else {
			result.SkippedCount++
		}
	}
	return result, nil
}

// assignOne adds the reviewer to one application under optimistic
// concurrency. Returns false when the reviewer already held it.
func (s *AssignmentService) assignOne(ctx context.Context, applicationID, reviewerID string) (bool, error) {
	for attempt := 0; attempt < metadataUpdateRetries; attempt++ {
		app, err := s.submissions.GetByID(ctx, applicationID)
		if err != nil {
			if err == sql.ErrNoRows {
				return false, appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
		}
		if app.AssignedTo(reviewerID) {
			return false, nil
		}
		app.AssignedReviewers = append(app.AssignedReviewers, reviewerID)
		err = s.submissions.UpdateMetadata(ctx, app)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save assignment")
	}
	return false, appErrors.Clone(appErrors.ErrConcurrentModification, "application is being modified concurrently")
}

// BulkAssignWorkflow moves each listed application into the workflow's first
// stage. Items are processed by a bounded worker pool; each item succeeds or
// fails on its own and a cancelled context stops the remaining work.
func (s *AssignmentService) BulkAssignWorkflow(ctx context.Context, req BulkAssignWorkflowRequest) (*BulkAssignResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk assignment payload")
	}
	workflow, err := s.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	firstStage, err := s.firstStage(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	type item struct {
		id string
	}
	jobs := make(chan item)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		failures []BulkAssignFailure
	)
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				err := s.placeInStage(ctx, job.id, workflow.ID, firstStage.ID, "Assigned to workflow")
				mu.Lock()
				if err != nil {
					failures = append(failures, BulkAssignFailure{ApplicationID: job.id, Reason: err.Error()})
				} else {
					success++
				}
				mu.Unlock()
			}
		}()
	}

	for _, id := range req.ApplicationIDs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk assignment cancelled")
		case jobs <- item{id: id}:
		}
	}
	close(jobs)
	wg.Wait()

	return &BulkAssignResult{SuccessCount: success, Failures: failures}, nil
}

// AssignAllUnassigned places every application without a workflow into the
// given workflow, or into the workspace's default when workflowID is empty.
func (s *AssignmentService) AssignAllUnassigned(ctx context.Context, workspaceID, formID, workflowID string) (*BulkAssignResult, error) {
	var workflow *models.Workflow
	var err error
	if workflowID != "" {
		workflow, err = s.workflows.GetWorkflow(ctx, workflowID)
	} else {
		workflow, err = s.workflows.ResolveDefaultWorkflow(ctx, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	apps, err := s.submissions.ListByForm(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	ids := make([]string, 0)
	for i := range apps {
		if apps[i].WorkflowID == nil {
			ids = append(ids, apps[i].ID)
		}
	}
	if len(ids) == 0 {
		return &BulkAssignResult{}, nil
	}
	return s.BulkAssignWorkflow(ctx, BulkAssignWorkflowRequest{FormID: formID, WorkflowID: workflow.ID, ApplicationIDs: ids})
}

func (s *AssignmentService) firstStage(ctx context.Context, workflowID string) (*models.StageWithConfigs, error) {
	stages, err := s.workflows.ListStages(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "workflow has no stages")
	}
	first := &stages[0]
	for i := range stages {
		if stages[i].OrderIndex < first.OrderIndex {
			first = &stages[i]
		}
	}
	return first, nil
}

// placeInStage sets the application's workflow and stage under optimistic
// concurrency, recording the transition in the stage history.
func (s *AssignmentService) placeInStage(ctx context.Context, applicationID, workflowID, stageID, reason string) error {
	for attempt := 0; attempt < metadataUpdateRetries; attempt++ {
		app, err := s.submissions.GetByID(ctx, applicationID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "application not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
		}
		if app.WorkflowID != nil && *app.WorkflowID == workflowID && app.StageID == stageID {
			return nil
		}
		from := app.StageID
		app.WorkflowID = &workflowID
		app.StageID = stageID
		app.StageHistory = append(app.StageHistory, models.StageTransition{
			FromStageID: from,
			ToStageID:   stageID,
			Reason:      reason,
			MovedAt:     time.Now().UTC(),
		})
		err = s.submissions.UpdateMetadata(ctx, app)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save workflow assignment")
	}
	return appErrors.Clone(appErrors.ErrConcurrentModification, "application is being modified concurrently")
}
