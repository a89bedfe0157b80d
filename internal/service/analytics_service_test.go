package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type reviewerListerStub struct {
	reviewers []models.Reviewer
}

func (s *reviewerListerStub) ListByForm(ctx context.Context, formID string) ([]models.Reviewer, error) {
	return s.reviewers, nil
}

type stageListerStub struct {
	stages []models.StageWithConfigs
}

func (s *stageListerStub) ListStages(ctx context.Context, workflowID string) ([]models.StageWithConfigs, error) {
	return s.stages, nil
}

type memoryCacheStub struct {
	entries map[string][]byte
	deleted []string
}

func newMemoryCacheStub() *memoryCacheStub {
	return &memoryCacheStub{entries: make(map[string][]byte)}
}

func (s *memoryCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *memoryCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.entries[key] = raw
	return nil
}

func (s *memoryCacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	s.deleted = append(s.deleted, pattern)
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func scoredApp(id string, score, max float64, status models.ApplicationStatus) *models.Application {
	return &models.Application{
		ID:       id,
		FormID:   "form-1",
		Status:   status,
		Score:    floatPtr(score),
		MaxScore: max,
	}
}

func TestFilterApplicationsConjunction(t *testing.T) {
	workflowID := "wf-1"
	otherWorkflow := "wf-2"
	store := newSubmissionStoreStub(
		&models.Application{ID: "app-1", FormID: "form-1", WorkflowID: &workflowID, StageID: "stage-1", Status: models.StatusInReview, Score: floatPtr(80), MaxScore: 100, Tags: []string{"stem", "finalist"}},
		&models.Application{ID: "app-2", FormID: "form-1", WorkflowID: &workflowID, StageID: "stage-2", Status: models.StatusInReview, Score: floatPtr(40), MaxScore: 100, Tags: []string{"stem"}},
		&models.Application{ID: "app-3", FormID: "form-1", WorkflowID: &otherWorkflow, StageID: "stage-9", Status: models.StatusPending},
		&models.Application{ID: "app-4", FormID: "form-1", Status: models.StatusPending},
	)
	svc := NewAnalyticsService(store, &reviewerListerStub{}, &stageListerStub{}, &rubricLookupStub{}, nil, nil)

	// An application with no workflow stays visible under a workflow filter.
	apps, err := svc.FilterApplications(context.Background(), "form-1", models.ApplicationFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, apps, 3)

	min := 50.0
	apps, err = svc.FilterApplications(context.Background(), "form-1", models.ApplicationFilter{
		WorkflowID: "wf-1",
		Status:     models.StatusInReview,
		ScoreMin:   &min,
		Tags:       []string{"stem"},
	})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, "app-1", apps[0].ID)

	// Unscored applications never match a bound score range.
	apps, err = svc.FilterApplications(context.Background(), "form-1", models.ApplicationFilter{ScoreMin: &min})
	require.NoError(t, err)
	require.Len(t, apps, 1)
}

func TestScoreDistributionBuckets(t *testing.T) {
	apps := []models.Application{
		*scoredApp("app-1", 5, 100, models.StatusInReview),
		*scoredApp("app-2", 20, 100, models.StatusInReview),
		*scoredApp("app-3", 79.9, 100, models.StatusInReview),
		*scoredApp("app-4", 100, 100, models.StatusApproved),
		*scoredApp("app-5", 80, 100, models.StatusInReview),
		{ID: "app-6", FormID: "form-1", Status: models.StatusPending},
	}
	buckets := scoreDistribution(apps)
	require.Len(t, buckets, 5)
	require.Equal(t, "0-20", buckets[0].Label)
	require.Equal(t, 1, buckets[0].Count)
	require.Equal(t, 1, buckets[1].Count)
	require.Equal(t, 0, buckets[2].Count)
	require.Equal(t, 1, buckets[3].Count)
	// Exactly 80 belongs to the final bucket, as does a perfect score.
	require.Equal(t, 2, buckets[4].Count)
}

func TestPipelineSummaryCountsUnassigned(t *testing.T) {
	apps := []models.Application{
		{ID: "app-1", Status: models.StatusPending},
		{ID: "app-2", Status: models.StatusInReview, AssignedReviewers: []string{"rev-1"}, Score: floatPtr(60)},
		{ID: "app-3", Status: models.StatusApproved, AssignedReviewers: []string{"rev-1"}, Score: floatPtr(90)},
		{ID: "app-4", Status: models.StatusRejected},
	}
	summary := pipelineSummary(apps)
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 1, summary.Pending)
	require.Equal(t, 1, summary.InReview)
	require.Equal(t, 1, summary.Approved)
	require.Equal(t, 1, summary.Rejected)
	require.Equal(t, 2, summary.Unassigned)
	require.Equal(t, 75.0, summary.AverageScore)
}

func TestCategoryAveragesBands(t *testing.T) {
	categories := []models.RubricCategory{
		{ID: "impact", Name: "Impact", Points: 10},
		{ID: "essay", Name: "Essay", Points: 10},
		{ID: "need", Name: "Need", Points: 10},
		{ID: "unused", Name: "Unused", Points: 10},
	}
	apps := []models.Application{
		{ID: "app-1", Scores: map[string]float64{"impact": 9, "essay": 7, "need": 4}},
		{ID: "app-2", Scores: map[string]float64{"impact": 8, "essay": 6, "need": 5}},
	}
	averages := categoryAverages(apps, categories)
	require.Len(t, averages, 4)
	require.Equal(t, 8.5, averages[0].AvgScore)
	require.Equal(t, 85.0, averages[0].Percentage)
	require.Equal(t, "green", averages[0].Band)
	require.Equal(t, 65.0, averages[1].Percentage)
	require.Equal(t, "blue", averages[1].Band)
	// 45% clears the 40 cut and must not share the bottom band.
	require.Equal(t, 45.0, averages[2].Percentage)
	require.Equal(t, "yellow", averages[2].Band)
	require.Equal(t, "red", averages[3].Band)
	require.Zero(t, averages[3].AvgScore)
}

func TestScoreBandBoundaries(t *testing.T) {
	require.Equal(t, "green", scoreBand(80))
	require.Equal(t, "blue", scoreBand(60))
	require.Equal(t, "yellow", scoreBand(40))
	require.Equal(t, "red", scoreBand(39.9))
}

func TestReviewerMetricsVariance(t *testing.T) {
	reviewers := []models.Reviewer{
		{ID: "rev-1", Name: "Alex"},
		{ID: "rev-2", Name: "Sam"},
	}
	apps := []models.Application{
		{
			ID:                "app-1",
			AssignedReviewers: []string{"rev-1", "rev-2"},
			ReviewHistory: []models.ReviewEntry{
				{ReviewerID: "rev-1", Total: 70},
				// A second pass over the same application must not count twice.
				{ReviewerID: "rev-1", Total: 72},
			},
		},
		{
			ID:                "app-2",
			AssignedReviewers: []string{"rev-1"},
			ReviewHistory:     []models.ReviewEntry{{ReviewerID: "rev-1", Total: 90}},
		},
	}
	metrics := reviewerMetrics(apps, reviewers)
	require.Len(t, metrics, 2)

	require.Equal(t, 2, metrics[0].AssignedCount)
	require.Equal(t, 2, metrics[0].CompletedCount)
	require.Equal(t, 100.0, metrics[0].CompletionRate)
	require.Equal(t, 80.0, metrics[0].AvgScore)
	require.Equal(t, 100.0, metrics[0].ScoreVariance)

	require.Equal(t, 1, metrics[1].AssignedCount)
	require.Zero(t, metrics[1].CompletedCount)
	require.Zero(t, metrics[1].CompletionRate)
}

func TestTagDistributionOrdering(t *testing.T) {
	apps := []models.Application{
		{ID: "app-1", Tags: []string{"stem", "finalist"}},
		{ID: "app-2", Tags: []string{"stem"}},
		{ID: "app-3", Tags: []string{"arts"}},
	}
	distribution := tagDistribution(apps)
	require.Equal(t, []models.TagCount{
		{Tag: "stem", Count: 2},
		{Tag: "arts", Count: 1},
		{Tag: "finalist", Count: 1},
	}, distribution)
}

func TestReportComputesAllSections(t *testing.T) {
	workflowID := "wf-1"
	rubricID := "rubric-1"
	store := newSubmissionStoreStub(&models.Application{
		ID:                "app-1",
		FormID:            "form-1",
		WorkflowID:        &workflowID,
		Status:            models.StatusInReview,
		Score:             floatPtr(85),
		MaxScore:          100,
		Scores:            map[string]float64{"impact": 85},
		Tags:              []string{"stem"},
		AssignedReviewers: []string{"rev-1"},
		ReviewHistory:     []models.ReviewEntry{{ReviewerID: "rev-1", Total: 85}},
	})
	rubrics := &rubricLookupStub{rubrics: map[string]*models.Rubric{
		rubricID: {ID: rubricID, MaxScore: 100, Categories: models.RubricCategories{{ID: "impact", Name: "Impact", Points: 100}}},
	}}
	stages := &stageListerStub{stages: []models.StageWithConfigs{
		{Stage: models.Stage{ID: "stage-1", WorkflowID: workflowID, RubricID: &rubricID}},
	}}
	reviewers := &reviewerListerStub{reviewers: []models.Reviewer{{ID: "rev-1", Name: "Alex"}}}
	svc := NewAnalyticsService(store, reviewers, stages, rubrics, nil, nil)

	report, err := svc.Report(context.Background(), "form-1", workflowID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.Total)
	require.Equal(t, 1, report.ScoreDistribution[4].Count)
	require.Len(t, report.CategoryAverages, 1)
	require.Equal(t, "green", report.CategoryAverages[0].Band)
	require.Len(t, report.ReviewerMetrics, 1)
	require.Equal(t, 1, report.ReviewerMetrics[0].CompletedCount)
	require.Equal(t, []models.TagCount{{Tag: "stem", Count: 1}}, report.TagDistribution)
}

func TestReportServedFromCache(t *testing.T) {
	workflowID := "wf-1"
	store := newSubmissionStoreStub()
	cacheRepo := newMemoryCacheStub()
	cached := models.AnalyticsReport{Summary: models.PipelineSummary{Total: 42}}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	cacheRepo.entries[fmt.Sprintf("analytics:%s:%s", "form-1", workflowID)] = raw

	cache := NewCacheService(cacheRepo, nil, 0, nil, true)
	svc := NewAnalyticsService(store, &reviewerListerStub{}, &stageListerStub{}, &rubricLookupStub{}, cache, nil)

	report, err := svc.Report(context.Background(), "form-1", workflowID)
	require.NoError(t, err)
	require.Equal(t, 42, report.Summary.Total)
}

func TestInvalidateDropsFormReports(t *testing.T) {
	cacheRepo := newMemoryCacheStub()
	cache := NewCacheService(cacheRepo, nil, 0, nil, true)
	svc := NewAnalyticsService(newSubmissionStoreStub(), &reviewerListerStub{}, &stageListerStub{}, &rubricLookupStub{}, cache, nil)

	svc.Invalidate(context.Background(), "form-1")
	require.Equal(t, []string{"analytics:form-1:*"}, cacheRepo.deleted)
}
