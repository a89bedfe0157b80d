package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/brightfund/review-api/internal/models"
	appErrors "github.com/brightfund/review-api/pkg/errors"
)

type reviewerLister interface {
	ListByForm(ctx context.Context, formID string) ([]models.Reviewer, error)
}

type workflowStageLister interface {
	ListStages(ctx context.Context, workflowID string) ([]models.StageWithConfigs, error)
}

// scoreBucketBounds defines the histogram in percent of the maximum score.
var scoreBucketBounds = [][2]float64{
	{0, 20},
	{20, 40},
	{40, 60},
	{60, 80},
	{80, 100},
}

// AnalyticsService computes the read-side aggregations over a form's
// applications. Reports are cached per form and workflow.
type AnalyticsService struct {
	submissions submissionStore
	reviewers   reviewerLister
	workflows   workflowStageLister
	rubrics     rubricLookup
	cache       *CacheService
	logger      *zap.Logger
}

// NewAnalyticsService constructs AnalyticsService. cache may be nil to
// disable caching.
func NewAnalyticsService(submissions submissionStore, reviewers reviewerLister, workflows workflowStageLister, rubrics rubricLookup, cache *CacheService, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		submissions: submissions,
		reviewers:   reviewers,
		workflows:   workflows,
		rubrics:     rubrics,
		cache:       cache,
		logger:      logger,
	}
}

// FilterApplications loads a form's applications and evaluates the filter
// conjunction over them.
func (s *AnalyticsService) FilterApplications(ctx context.Context, formID string, filter models.ApplicationFilter) ([]models.Application, error) {
	apps, err := s.submissions.ListByForm(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	filtered := make([]models.Application, 0, len(apps))
	for i := range apps {
		if filter.Matches(&apps[i]) {
			filtered = append(filtered, apps[i])
		}
	}
	return filtered, nil
}

// Report computes the full analytics report for one workflow's applications.
func (s *AnalyticsService) Report(ctx context.Context, formID, workflowID string) (*models.AnalyticsReport, error) {
	cacheKey := fmt.Sprintf("analytics:%s:%s", formID, workflowID)
	var cached models.AnalyticsReport
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	apps, err := s.FilterApplications(ctx, formID, models.ApplicationFilter{WorkflowID: workflowID})
	if err != nil {
		return nil, err
	}
	reviewers, err := s.reviewers.ListByForm(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviewers")
	}
	categories, err := s.workflowCategories(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	report := &models.AnalyticsReport{
		Summary:           pipelineSummary(apps),
		ScoreDistribution: scoreDistribution(apps),
		CategoryAverages:  categoryAverages(apps, categories),
		ReviewerMetrics:   reviewerMetrics(apps, reviewers),
		TagDistribution:   tagDistribution(apps),
	}

	if err := s.cache.Set(ctx, cacheKey, report, 0); err != nil {
		s.logger.Warn("failed to cache analytics report", zap.String("workflow_id", workflowID), zap.Error(err))
	}
	return report, nil
}

// Invalidate drops cached reports for a form after writes.
func (s *AnalyticsService) Invalidate(ctx context.Context, formID string) {
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("analytics:%s:*", formID)); err != nil {
		s.logger.Warn("failed to invalidate analytics cache", zap.String("form_id", formID), zap.Error(err))
	}
}

// workflowCategories collects the rubric categories referenced by a
// workflow's stages, deduplicated by category id.
func (s *AnalyticsService) workflowCategories(ctx context.Context, workflowID string) ([]models.RubricCategory, error) {
	stages, err := s.workflows.ListStages(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var categories []models.RubricCategory
	for _, stage := range stages {
		if stage.RubricID == nil {
			continue
		}
		rubric, err := s.rubrics.GetByID(ctx, *stage.RubricID)
		if err != nil {
			continue
		}
		for _, category := range rubric.Categories {
			if _, ok := seen[category.ID]; ok {
				continue
			}
			seen[category.ID] = struct{}{}
			categories = append(categories, category)
		}
	}
	return categories, nil
}

func pipelineSummary(apps []models.Application) models.PipelineSummary {
	summary := models.PipelineSummary{Total: len(apps)}
	scoreSum := 0.0
	scored := 0
	for i := range apps {
		switch apps[i].Status {
		case models.StatusPending:
			summary.Pending++
		case models.StatusInReview:
			summary.InReview++
		case models.StatusApproved:
			summary.Approved++
		case models.StatusRejected:
			summary.Rejected++
		}
		if len(apps[i].AssignedReviewers) == 0 {
			summary.Unassigned++
		}
		if apps[i].Score != nil {
			scoreSum += *apps[i].Score
			scored++
		}
	}
	if scored > 0 {
		summary.AverageScore = round1(scoreSum / float64(scored))
	}
	return summary
}

// scoreDistribution buckets scored applications by percent of their maximum
// score. All buckets are half-open except the last, so a perfect score lands
// in 80-100.
func scoreDistribution(apps []models.Application) []models.ScoreBucket {
	buckets := make([]models.ScoreBucket, len(scoreBucketBounds))
	for i, bounds := range scoreBucketBounds {
		buckets[i] = models.ScoreBucket{
			Label: fmt.Sprintf("%d-%d", int(bounds[0]), int(bounds[1])),
			Min:   bounds[0],
			Max:   bounds[1],
		}
	}
	for i := range apps {
		if apps[i].Score == nil || apps[i].MaxScore <= 0 {
			continue
		}
		percent := *apps[i].Score / apps[i].MaxScore * 100
		for j := range buckets {
			last := j == len(buckets)-1
			if percent >= buckets[j].Min && (percent < buckets[j].Max || (last && percent <= buckets[j].Max)) {
				buckets[j].Count++
				break
			}
		}
	}
	return buckets
}

func categoryAverages(apps []models.Application, categories []models.RubricCategory) []models.CategoryAverage {
	averages := make([]models.CategoryAverage, 0, len(categories))
	for _, category := range categories {
		sum := 0.0
		count := 0
		for i := range apps {
			if value, ok := apps[i].Scores[category.ID]; ok {
				sum += value
				count++
			}
		}
		entry := models.CategoryAverage{
			CategoryID: category.ID,
			Name:       category.Name,
			MaxPoints:  category.Points,
		}
		if count > 0 {
			entry.AvgScore = round1(sum / float64(count))
			if category.Points > 0 {
				entry.Percentage = round1(entry.AvgScore / float64(category.Points) * 100)
			}
		}
		entry.Band = scoreBand(entry.Percentage)
		averages = append(averages, entry)
	}
	return averages
}

// scoreBand maps a category percentage onto the workspace's four color
// tiers, cut at 40, 60 and 80.
func scoreBand(percentage float64) string {
	switch {
	case percentage >= 80:
		return "green"
	case percentage >= 60:
		return "blue"
	case percentage >= 40:
		return "yellow"
	default:
		return "red"
	}
}

// reviewerMetrics derives workload counters from the application set and
// score variance from each reviewer's history entries. Variance is the mean
// squared deviation from the reviewer's own average.
func reviewerMetrics(apps []models.Application, reviewers []models.Reviewer) []models.ReviewerMetrics {
	assigned := make(map[string]int)
	totals := make(map[string][]float64)
	for i := range apps {
		for _, reviewerID := range apps[i].AssignedReviewers {
			assigned[reviewerID]++
		}
		seen := make(map[string]struct{})
		for _, entry := range apps[i].ReviewHistory {
			if _, ok := seen[entry.ReviewerID]; ok {
				continue
			}
			seen[entry.ReviewerID] = struct{}{}
			totals[entry.ReviewerID] = append(totals[entry.ReviewerID], entry.Total)
		}
	}

	metrics := make([]models.ReviewerMetrics, 0, len(reviewers))
	for _, reviewer := range reviewers {
		entry := models.ReviewerMetrics{
			ReviewerID:     reviewer.ID,
			Name:           reviewer.Name,
			AssignedCount:  assigned[reviewer.ID],
			CompletedCount: len(totals[reviewer.ID]),
		}
		if entry.AssignedCount > 0 {
			entry.CompletionRate = round1(float64(entry.CompletedCount) / float64(entry.AssignedCount) * 100)
		}
		if scores := totals[reviewer.ID]; len(scores) > 0 {
			sum := 0.0
			for _, v := range scores {
				sum += v
			}
			avg := sum / float64(len(scores))
			variance := 0.0
			for _, v := range scores {
				variance += (v - avg) * (v - avg)
			}
			entry.AvgScore = round1(avg)
			entry.ScoreVariance = round1(variance / float64(len(scores)))
		}
		metrics = append(metrics, entry)
	}
	return metrics
}

func tagDistribution(apps []models.Application) []models.TagCount {
	counts := make(map[string]int)
	for i := range apps {
		for _, tag := range apps[i].Tags {
			counts[tag]++
		}
	}
	distribution := make([]models.TagCount, 0, len(counts))
	for tag, count := range counts {
		distribution = append(distribution, models.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(distribution, func(i, j int) bool {
		if distribution[i].Count != distribution[j].Count {
			return distribution[i].Count > distribution[j].Count
		}
		return distribution[i].Tag < distribution[j].Tag
	})
	return distribution
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
