package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/repository"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type submissionStoreStub struct {
	apps      map[string]*models.Application
	conflicts map[string]int
	updates   int
}

func newSubmissionStoreStub(apps ...*models.Application) *submissionStoreStub {
	stub := &submissionStoreStub{
		apps:      make(map[string]*models.Application),
		conflicts: make(map[string]int),
	}
	for _, app := range apps {
		stub.apps[app.ID] = app
	}
	return stub
}

func (s *submissionStoreStub) snapshot(app *models.Application) *models.Application {
	copy := *app
	seen := make(map[string]struct{})
	for _, entry := range app.ReviewHistory {
		seen[entry.ReviewerID] = struct{}{}
	}
	copy.ReviewCount = len(seen)
	return &copy
}

func (s *submissionStoreStub) ListByForm(ctx context.Context, formID string) ([]models.Application, error) {
	ids := make([]string, 0, len(s.apps))
	for id := range s.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]models.Application, 0, len(ids))
	for _, id := range ids {
		if s.apps[id].FormID == formID {
			result = append(result, *s.snapshot(s.apps[id]))
		}
	}
	return result, nil
}

func (s *submissionStoreStub) GetByID(ctx context.Context, id string) (*models.Application, error) {
	app, ok := s.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.snapshot(app), nil
}

func (s *submissionStoreStub) UpdateMetadata(ctx context.Context, app *models.Application) error {
	stored, ok := s.apps[app.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if s.conflicts[app.ID] > 0 {
		s.conflicts[app.ID]--
		return repository.ErrVersionConflict
	}
	if stored.Version != app.Version {
		return repository.ErrVersionConflict
	}
	updated := *app
	updated.Version++
	s.apps[app.ID] = &updated
	app.Version++
	s.updates++
	return nil
}

func (s *submissionStoreStub) ListAssignable(ctx context.Context, formID, reviewerID string, onlyUnassigned bool, limit int) ([]models.Application, error) {
	ids := make([]string, 0, len(s.apps))
	for id := range s.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	result := make([]models.Application, 0, limit)
	for _, id := range ids {
		app := s.apps[id]
		if app.FormID != formID || app.AssignedTo(reviewerID) {
			continue
		}
		if onlyUnassigned && len(app.AssignedReviewers) > 0 {
			continue
		}
		if len(result) == limit {
			break
		}
		result = append(result, *s.snapshot(app))
	}
	return result, nil
}

type reviewerReaderStub struct {
	reviewers map[string]*models.Reviewer
}

func (s *reviewerReaderStub) GetByID(ctx context.Context, id string) (*models.Reviewer, error) {
	if reviewer, ok := s.reviewers[id]; ok {
		copy := *reviewer
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type workflowResolverStub struct {
	workflow *models.Workflow
	stages   []models.StageWithConfigs
}

func (s *workflowResolverStub) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	if s.workflow == nil || s.workflow.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "workflow not found")
	}
	return s.workflow, nil
}

func (s *workflowResolverStub) ResolveDefaultWorkflow(ctx context.Context, workspaceID string) (*models.Workflow, error) {
	if s.workflow == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "workspace has no workflows")
	}
	return s.workflow, nil
}

func (s *workflowResolverStub) ListStages(ctx context.Context, workflowID string) ([]models.StageWithConfigs, error) {
	return s.stages, nil
}

func activeReviewer(id, formID string) *models.Reviewer {
	return &models.Reviewer{ID: id, FormID: formID, Name: "Reviewer " + id, Status: models.ReviewerStatusActive}
}

func TestAssignReviewerRandomZeroCount(t *testing.T) {
	store := newSubmissionStoreStub(&models.Application{ID: "app-1", FormID: "form-1"})
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-1")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	result, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:     "form-1",
		ReviewerID: "rev-1",
		Strategy:   "random",
		Count:      0,
	})
	require.NoError(t, err)
	require.Zero(t, result.AssignedCount)
	require.Zero(t, store.updates)
}

func TestAssignReviewerSkipsAlreadyAssigned(t *testing.T) {
	store := newSubmissionStoreStub(
		&models.Application{ID: "app-1", FormID: "form-1", AssignedReviewers: []string{"rev-1"}},
		&models.Application{ID: "app-2", FormID: "form-1"},
	)
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-1")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	result, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:         "form-1",
		ReviewerID:     "rev-1",
		Strategy:       "manual",
		ApplicationIDs: []string{"app-1", "app-2"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.AssignedCount)
	require.Equal(t, 1, result.SkippedCount)
	require.Equal(t, []string{"app-2"}, result.ApplicationIDs)
	require.True(t, store.apps["app-2"].AssignedTo("rev-1"))

	// Repeating the same request assigns nothing new.
	repeat, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:         "form-1",
		ReviewerID:     "rev-1",
		Strategy:       "manual",
		ApplicationIDs: []string{"app-1", "app-2"},
	})
	require.NoError(t, err)
	require.Zero(t, repeat.AssignedCount)
	require.Equal(t, 2, repeat.SkippedCount)
}

func TestAssignReviewerManualUnknownApplication(t *testing.T) {
	store := newSubmissionStoreStub()
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-1")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	_, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:         "form-1",
		ReviewerID:     "rev-1",
		Strategy:       "manual",
		ApplicationIDs: []string{"missing"},
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignReviewerWrongForm(t *testing.T) {
	store := newSubmissionStoreStub()
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-2")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	_, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:     "form-1",
		ReviewerID: "rev-1",
		Strategy:   "random",
		Count:      3,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignReviewerRandomRespectsOnlyUnassigned(t *testing.T) {
	store := newSubmissionStoreStub(
		&models.Application{ID: "app-1", FormID: "form-1", AssignedReviewers: []string{"rev-2"}},
		&models.Application{ID: "app-2", FormID: "form-1"},
		&models.Application{ID: "app-3", FormID: "form-1"},
	)
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-1")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	result, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:         "form-1",
		ReviewerID:     "rev-1",
		Strategy:       "random",
		Count:          5,
		OnlyUnassigned: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.AssignedCount)
	require.False(t, store.apps["app-1"].AssignedTo("rev-1"))
}

func TestAssignReviewerRetriesVersionConflict(t *testing.T) {
	store := newSubmissionStoreStub(&models.Application{ID: "app-1", FormID: "form-1"})
	store.conflicts["app-1"] = metadataUpdateRetries - 1
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-1")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	result, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:         "form-1",
		ReviewerID:     "rev-1",
		Strategy:       "manual",
		ApplicationIDs: []string{"app-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.AssignedCount)
}

func TestAssignReviewerGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := newSubmissionStoreStub(&models.Application{ID: "app-1", FormID: "form-1"})
	store.conflicts["app-1"] = metadataUpdateRetries
	reviewers := &reviewerReaderStub{reviewers: map[string]*models.Reviewer{"rev-1": activeReviewer("rev-1", "form-1")}}
	svc := NewAssignmentService(store, reviewers, &workflowResolverStub{}, 2, nil, nil)

	_, err := svc.AssignReviewer(context.Background(), AssignReviewerRequest{
		FormID:         "form-1",
		ReviewerID:     "rev-1",
		Strategy:       "manual",
		ApplicationIDs: []string{"app-1"},
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConcurrentModification.Code, appErrors.FromError(err).Code)
}

func TestBulkAssignWorkflowPartialFailure(t *testing.T) {
	store := newSubmissionStoreStub(
		&models.Application{ID: "app-1", FormID: "form-1"},
		&models.Application{ID: "app-2", FormID: "form-1"},
	)
	resolver := &workflowResolverStub{
		workflow: &models.Workflow{ID: "wf-1", WorkspaceID: "ws-1"},
		stages: []models.StageWithConfigs{
			{Stage: models.Stage{ID: "stage-1", WorkflowID: "wf-1", OrderIndex: 0}},
			{Stage: models.Stage{ID: "stage-2", WorkflowID: "wf-1", OrderIndex: 1}},
		},
	}
	svc := NewAssignmentService(store, &reviewerReaderStub{}, resolver, 2, nil, nil)

	result, err := svc.BulkAssignWorkflow(context.Background(), BulkAssignWorkflowRequest{
		WorkflowID:     "wf-1",
		ApplicationIDs: []string{"app-1", "missing", "app-2"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.SuccessCount)
	require.Len(t, result.Failures, 1)
	require.Equal(t, "missing", result.Failures[0].ApplicationID)

	placed := store.apps["app-1"]
	require.NotNil(t, placed.WorkflowID)
	require.Equal(t, "wf-1", *placed.WorkflowID)
	require.Equal(t, "stage-1", placed.StageID)
	require.Len(t, placed.StageHistory, 1)
}

func TestBulkAssignWorkflowWithoutStages(t *testing.T) {
	store := newSubmissionStoreStub(&models.Application{ID: "app-1", FormID: "form-1"})
	resolver := &workflowResolverStub{workflow: &models.Workflow{ID: "wf-1"}}
	svc := NewAssignmentService(store, &reviewerReaderStub{}, resolver, 2, nil, nil)

	_, err := svc.BulkAssignWorkflow(context.Background(), BulkAssignWorkflowRequest{
		WorkflowID:     "wf-1",
		ApplicationIDs: []string{"app-1"},
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestAssignAllUnassignedSkipsPlacedApplications(t *testing.T) {
	placedWorkflow := "wf-0"
	store := newSubmissionStoreStub(
		&models.Application{ID: "app-1", FormID: "form-1", WorkflowID: &placedWorkflow, StageID: "old-stage"},
		&models.Application{ID: "app-2", FormID: "form-1"},
	)
	resolver := &workflowResolverStub{
		workflow: &models.Workflow{ID: "wf-1", WorkspaceID: "ws-1"},
		stages: []models.StageWithConfigs{
			{Stage: models.Stage{ID: "stage-1", WorkflowID: "wf-1", OrderIndex: 0}},
		},
	}
	svc := NewAssignmentService(store, &reviewerReaderStub{}, resolver, 2, nil, nil)

	result, err := svc.AssignAllUnassigned(context.Background(), "ws-1", "form-1", "")
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)
	require.Empty(t, result.Failures)
	require.Equal(t, "old-stage", store.apps["app-1"].StageID)
	require.Equal(t, "stage-1", store.apps["app-2"].StageID)
}

func TestAssignAllUnassignedExplicitWorkflow(t *testing.T) {
	store := newSubmissionStoreStub(
		&models.Application{ID: "app-1", FormID: "form-1"},
	)
	resolver := &workflowResolverStub{
		workflow: &models.Workflow{ID: "wf-2", WorkspaceID: "ws-1"},
		stages: []models.StageWithConfigs{
			{Stage: models.Stage{ID: "stage-9", WorkflowID: "wf-2", OrderIndex: 0}},
		},
	}
	svc := NewAssignmentService(store, &reviewerReaderStub{}, resolver, 2, nil, nil)

	result, err := svc.AssignAllUnassigned(context.Background(), "ws-1", "form-1", "wf-2")
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, "stage-9", store.apps["app-1"].StageID)

	_, err = svc.AssignAllUnassigned(context.Background(), "ws-1", "form-1", "wf-missing")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
