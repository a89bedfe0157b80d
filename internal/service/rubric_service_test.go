package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type rubricRepoStub struct {
	rubrics map[string]*models.Rubric
}

func newRubricRepoStub() *rubricRepoStub {
	return &rubricRepoStub{rubrics: make(map[string]*models.Rubric)}
}

func (s *rubricRepoStub) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Rubric, error) {
	result := []models.Rubric{}
	for _, rubric := range s.rubrics {
		if rubric.WorkspaceID == workspaceID {
			result = append(result, *rubric)
		}
	}
	return result, nil
}

func (s *rubricRepoStub) GetByID(ctx context.Context, id string) (*models.Rubric, error) {
	if rubric, ok := s.rubrics[id]; ok {
		copy := *rubric
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *rubricRepoStub) Create(ctx context.Context, rubric *models.Rubric) error {
	s.rubrics[rubric.ID] = rubric
	return nil
}

func (s *rubricRepoStub) Update(ctx context.Context, rubric *models.Rubric) error {
	if _, ok := s.rubrics[rubric.ID]; !ok {
		return sql.ErrNoRows
	}
	s.rubrics[rubric.ID] = rubric
	return nil
}

func (s *rubricRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.rubrics[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.rubrics, id)
	return nil
}

func TestRubricCreateDerivesMaxScore(t *testing.T) {
	repo := newRubricRepoStub()
	svc := NewRubricService(repo, nil, nil)

	rubric, err := svc.Create(context.Background(), UpsertRubricRequest{
		WorkspaceID: "ws-1",
		Name:        "Scholarship Rubric",
		Categories: models.RubricCategories{
			{Name: "Impact", Points: 10},
			{Name: "Need", Points: 5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 15, rubric.MaxScore)
	require.NotEmpty(t, rubric.Categories[0].ID)
	require.NotEmpty(t, rubric.Categories[1].ID)
	require.NotEqual(t, rubric.Categories[0].ID, rubric.Categories[1].ID)
}

func TestRubricCreateRejectsMaxBelowCategoryTotal(t *testing.T) {
	svc := NewRubricService(newRubricRepoStub(), nil, nil)

	_, err := svc.Create(context.Background(), UpsertRubricRequest{
		WorkspaceID: "ws-1",
		Name:        "Scholarship Rubric",
		MaxScore:    10,
		Categories: models.RubricCategories{
			{Name: "Impact", Points: 10},
			{Name: "Need", Points: 5},
		},
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRubricCreateRejectsUnnamedCategory(t *testing.T) {
	svc := NewRubricService(newRubricRepoStub(), nil, nil)

	_, err := svc.Create(context.Background(), UpsertRubricRequest{
		WorkspaceID: "ws-1",
		Name:        "Scholarship Rubric",
		Categories:  models.RubricCategories{{Points: 10}},
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRubricUpdateKeepsExistingCategoryIDs(t *testing.T) {
	repo := newRubricRepoStub()
	svc := NewRubricService(repo, nil, nil)

	created, err := svc.Create(context.Background(), UpsertRubricRequest{
		WorkspaceID: "ws-1",
		Name:        "Scholarship Rubric",
		Categories:  models.RubricCategories{{Name: "Impact", Points: 10}},
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, UpsertRubricRequest{
		WorkspaceID: "ws-1",
		Name:        "Scholarship Rubric v2",
		MaxScore:    20,
		Categories: models.RubricCategories{
			{ID: created.Categories[0].ID, Name: "Impact", Points: 10},
			{Name: "Feasibility", Points: 5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 20, updated.MaxScore)
	require.Equal(t, created.Categories[0].ID, updated.Categories[0].ID)
	require.NotEmpty(t, updated.Categories[1].ID)
}

func TestRubricGetMissing(t *testing.T) {
	svc := NewRubricService(newRubricRepoStub(), nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
