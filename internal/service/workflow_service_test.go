package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type workflowRepoStub struct {
	workflows []models.Workflow
}

func (s *workflowRepoStub) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Workflow, error) {
	result := make([]models.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if wf.WorkspaceID == workspaceID {
			result = append(result, wf)
		}
	}
	return result, nil
}

func (s *workflowRepoStub) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	for i := range s.workflows {
		if s.workflows[i].ID == id {
			copy := s.workflows[i]
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *workflowRepoStub) Create(ctx context.Context, workflow *models.Workflow) error {
	s.workflows = append(s.workflows, *workflow)
	return nil
}

func (s *workflowRepoStub) Update(ctx context.Context, id string, update models.WorkflowUpdate) (*models.Workflow, error) {
	for i := range s.workflows {
		if s.workflows[i].ID == id {
			if update.Name != nil {
				s.workflows[i].Name = *update.Name
			}
			if update.Description != nil {
				s.workflows[i].Description = update.Description
			}
			if update.IsActive != nil {
				s.workflows[i].IsActive = *update.IsActive
			}
			copy := s.workflows[i]
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *workflowRepoStub) Delete(ctx context.Context, id string) error {
	for i := range s.workflows {
		if s.workflows[i].ID == id {
			s.workflows = append(s.workflows[:i], s.workflows[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type stageRepoStub struct {
	stages      []models.Stage
	lastReorder []string
}

func (s *stageRepoStub) ListByWorkflow(ctx context.Context, workflowID string) ([]models.Stage, error) {
	result := make([]models.Stage, 0, len(s.stages))
	for _, stage := range s.stages {
		if stage.WorkflowID == workflowID {
			result = append(result, stage)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OrderIndex < result[j].OrderIndex })
	return result, nil
}

func (s *stageRepoStub) GetByID(ctx context.Context, id string) (*models.Stage, error) {
	for i := range s.stages {
		if s.stages[i].ID == id {
			copy := s.stages[i]
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stageRepoStub) CountByWorkflow(ctx context.Context, workflowID string) (int, error) {
	count := 0
	for _, stage := range s.stages {
		if stage.WorkflowID == workflowID {
			count++
		}
	}
	return count, nil
}

func (s *stageRepoStub) Create(ctx context.Context, stage *models.Stage) error {
	s.stages = append(s.stages, *stage)
	return nil
}

func (s *stageRepoStub) Update(ctx context.Context, id string, update models.StageUpdate) (*models.Stage, error) {
	for i := range s.stages {
		if s.stages[i].ID == id {
			if update.Name != nil {
				s.stages[i].Name = *update.Name
			}
			if update.RubricID != nil {
				s.stages[i].RubricID = update.RubricID
			}
			copy := s.stages[i]
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stageRepoStub) DeleteAndRenumber(ctx context.Context, workflowID, stageID string) error {
	survivors := make([]models.Stage, 0, len(s.stages))
	for _, stage := range s.stages {
		if stage.ID != stageID {
			survivors = append(survivors, stage)
		}
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].OrderIndex < survivors[j].OrderIndex })
	for i := range survivors {
		if survivors[i].WorkflowID == workflowID {
			survivors[i].OrderIndex = i
		}
	}
	s.stages = survivors
	return nil
}

func (s *stageRepoStub) Reorder(ctx context.Context, workflowID string, orderedIDs []string) error {
	s.lastReorder = append([]string(nil), orderedIDs...)
	for index, id := range orderedIDs {
		for i := range s.stages {
			if s.stages[i].ID == id {
				s.stages[i].OrderIndex = index
			}
		}
	}
	return nil
}

type stageConfigRepoStub struct {
	configs map[string]*models.StageReviewerConfig
}

func newStageConfigRepoStub() *stageConfigRepoStub {
	return &stageConfigRepoStub{configs: make(map[string]*models.StageReviewerConfig)}
}

func (s *stageConfigRepoStub) ListByStage(ctx context.Context, stageID string) ([]models.StageReviewerConfig, error) {
	result := []models.StageReviewerConfig{}
	for _, config := range s.configs {
		if config.StageID == stageID {
			result = append(result, *config)
		}
	}
	return result, nil
}

func (s *stageConfigRepoStub) ListByStages(ctx context.Context, stageIDs []string) (map[string][]models.StageReviewerConfig, error) {
	result := make(map[string][]models.StageReviewerConfig)
	for _, id := range stageIDs {
		configs, _ := s.ListByStage(ctx, id)
		if len(configs) > 0 {
			result[id] = configs
		}
	}
	return result, nil
}

func (s *stageConfigRepoStub) GetByID(ctx context.Context, id string) (*models.StageReviewerConfig, error) {
	if config, ok := s.configs[id]; ok {
		copy := *config
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stageConfigRepoStub) Create(ctx context.Context, config *models.StageReviewerConfig) error {
	s.configs[config.ID] = config
	return nil
}

func (s *stageConfigRepoStub) Update(ctx context.Context, config *models.StageReviewerConfig) error {
	if _, ok := s.configs[config.ID]; !ok {
		return sql.ErrNoRows
	}
	s.configs[config.ID] = config
	return nil
}

func (s *stageConfigRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.configs[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.configs, id)
	return nil
}

type settingsRepoStub struct {
	settings map[string]*models.WorkspaceSettings
}

func newSettingsRepoStub() *settingsRepoStub {
	return &settingsRepoStub{settings: make(map[string]*models.WorkspaceSettings)}
}

func (s *settingsRepoStub) Get(ctx context.Context, workspaceID string) (*models.WorkspaceSettings, error) {
	if settings, ok := s.settings[workspaceID]; ok {
		copy := *settings
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *settingsRepoStub) SetDefaultWorkflow(ctx context.Context, workspaceID string, workflowID *string) error {
	s.settings[workspaceID] = &models.WorkspaceSettings{WorkspaceID: workspaceID, DefaultWorkflowID: workflowID}
	return nil
}

type rubricReaderStub struct {
	rubrics map[string]*models.Rubric
}

func (s *rubricReaderStub) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Rubric, error) {
	result := []models.Rubric{}
	for _, rubric := range s.rubrics {
		if rubric.WorkspaceID == workspaceID {
			result = append(result, *rubric)
		}
	}
	return result, nil
}

func (s *rubricReaderStub) GetByID(ctx context.Context, id string) (*models.Rubric, error) {
	if rubric, ok := s.rubrics[id]; ok {
		copy := *rubric
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type reviewerTypeReaderStub struct {
	types map[string]*models.ReviewerType
}

func (s *reviewerTypeReaderStub) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.ReviewerType, error) {
	result := []models.ReviewerType{}
	for _, rType := range s.types {
		if rType.WorkspaceID == workspaceID {
			result = append(result, *rType)
		}
	}
	return result, nil
}

func (s *reviewerTypeReaderStub) GetByID(ctx context.Context, id string) (*models.ReviewerType, error) {
	if rType, ok := s.types[id]; ok {
		copy := *rType
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func newWorkflowFixture() (*workflowRepoStub, *stageRepoStub, *settingsRepoStub, *WorkflowService) {
	workflows := &workflowRepoStub{workflows: []models.Workflow{
		{ID: "wf-1", WorkspaceID: "ws-1", Name: "Main Review", IsActive: true},
	}}
	stages := &stageRepoStub{stages: []models.Stage{
		{ID: "stage-a", WorkflowID: "wf-1", WorkspaceID: "ws-1", Name: "Screening", OrderIndex: 0},
		{ID: "stage-b", WorkflowID: "wf-1", WorkspaceID: "ws-1", Name: "Committee", OrderIndex: 1},
		{ID: "stage-c", WorkflowID: "wf-1", WorkspaceID: "ws-1", Name: "Final", OrderIndex: 2},
	}}
	settings := newSettingsRepoStub()
	svc := NewWorkflowService(workflows, stages, newStageConfigRepoStub(), settings,
		&rubricReaderStub{rubrics: map[string]*models.Rubric{}},
		&reviewerTypeReaderStub{types: map[string]*models.ReviewerType{}}, nil, nil)
	return workflows, stages, settings, svc
}

func TestCreateStageAppendsAtEnd(t *testing.T) {
	_, stages, _, svc := newWorkflowFixture()

	stage, err := svc.CreateStage(context.Background(), CreateStageRequest{
		WorkflowID:  "wf-1",
		WorkspaceID: "ws-1",
		Name:        "Interviews",
	})
	require.NoError(t, err)
	require.Equal(t, 3, stage.OrderIndex)
	require.Equal(t, models.StageTypeReview, stage.StageType)

	listed, err := stages.ListByWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, listed, 4)
	require.Equal(t, stage.ID, listed[3].ID)
}

func TestCreateStageUnknownRubric(t *testing.T) {
	_, _, _, svc := newWorkflowFixture()

	rubricID := "missing"
	_, err := svc.CreateStage(context.Background(), CreateStageRequest{
		WorkflowID:  "wf-1",
		WorkspaceID: "ws-1",
		Name:        "Interviews",
		RubricID:    &rubricID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReorderStageBeforeTarget(t *testing.T) {
	_, stages, _, svc := newWorkflowFixture()

	reordered, err := svc.ReorderStage(context.Background(), ReorderStagesRequest{
		WorkflowID:    "wf-1",
		StageID:       "stage-c",
		TargetStageID: "stage-a",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"stage-c", "stage-a", "stage-b"}, stages.lastReorder)
	require.Equal(t, "stage-c", reordered[0].ID)
	require.Equal(t, 0, reordered[0].OrderIndex)
	require.Equal(t, 2, reordered[2].OrderIndex)
}

func TestReorderStageToEnd(t *testing.T) {
	_, stages, _, svc := newWorkflowFixture()

	_, err := svc.ReorderStage(context.Background(), ReorderStagesRequest{
		WorkflowID: "wf-1",
		StageID:    "stage-a",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"stage-b", "stage-c", "stage-a"}, stages.lastReorder)
}

func TestReorderStageUnknownTarget(t *testing.T) {
	_, _, _, svc := newWorkflowFixture()

	_, err := svc.ReorderStage(context.Background(), ReorderStagesRequest{
		WorkflowID:    "wf-1",
		StageID:       "stage-a",
		TargetStageID: "missing",
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDeleteStageKeepsIndexesDense(t *testing.T) {
	_, stages, _, svc := newWorkflowFixture()

	require.NoError(t, svc.DeleteStage(context.Background(), "stage-b"))
	listed, err := stages.ListByWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, 0, listed[0].OrderIndex)
	require.Equal(t, 1, listed[1].OrderIndex)
}

func TestDeleteWorkflowWithStagesConflicts(t *testing.T) {
	_, _, _, svc := newWorkflowFixture()

	err := svc.DeleteWorkflow(context.Background(), "wf-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestResolveDefaultWorkflowExplicitSetting(t *testing.T) {
	workflows, _, settings, svc := newWorkflowFixture()
	workflows.workflows = append(workflows.workflows, models.Workflow{ID: "wf-2", WorkspaceID: "ws-1", Name: "Alt", IsActive: true})
	defaultID := "wf-2"
	settings.settings["ws-1"] = &models.WorkspaceSettings{WorkspaceID: "ws-1", DefaultWorkflowID: &defaultID}

	workflow, err := svc.ResolveDefaultWorkflow(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Equal(t, "wf-2", workflow.ID)
}

func TestResolveDefaultWorkflowFallsBackWhenSettingStale(t *testing.T) {
	workflows, _, settings, svc := newWorkflowFixture()
	workflows.workflows[0].IsActive = false
	workflows.workflows = append(workflows.workflows, models.Workflow{ID: "wf-2", WorkspaceID: "ws-1", Name: "Alt", IsActive: true})
	staleID := "wf-gone"
	settings.settings["ws-1"] = &models.WorkspaceSettings{WorkspaceID: "ws-1", DefaultWorkflowID: &staleID}

	workflow, err := svc.ResolveDefaultWorkflow(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Equal(t, "wf-2", workflow.ID)
}

func TestResolveDefaultWorkflowPrefersActive(t *testing.T) {
	workflows, _, _, svc := newWorkflowFixture()
	workflows.workflows[0].IsActive = false
	workflows.workflows = append(workflows.workflows, models.Workflow{ID: "wf-2", WorkspaceID: "ws-1", Name: "Alt", IsActive: true})

	workflow, err := svc.ResolveDefaultWorkflow(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Equal(t, "wf-2", workflow.ID)

	// With no active workflow at all, the earliest created one wins.
	workflows.workflows[1].IsActive = false
	workflow, err = svc.ResolveDefaultWorkflow(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Equal(t, "wf-1", workflow.ID)
}

func TestResolveDefaultWorkflowEmptyWorkspace(t *testing.T) {
	_, _, _, svc := newWorkflowFixture()

	_, err := svc.ResolveDefaultWorkflow(context.Background(), "ws-empty")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSetDefaultWorkflowValidatesExistence(t *testing.T) {
	_, _, settings, svc := newWorkflowFixture()

	missing := "wf-missing"
	err := svc.SetDefaultWorkflow(context.Background(), "ws-1", &missing)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	valid := "wf-1"
	require.NoError(t, svc.SetDefaultWorkflow(context.Background(), "ws-1", &valid))
	require.Equal(t, &valid, settings.settings["ws-1"].DefaultWorkflowID)

	require.NoError(t, svc.SetDefaultWorkflow(context.Background(), "ws-1", nil))
	require.Nil(t, settings.settings["ws-1"].DefaultWorkflowID)
}
