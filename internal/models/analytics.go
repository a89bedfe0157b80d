package models

import "time"

// ScoreBucket is one bar of the score distribution histogram. Buckets are
// half-open [Min, Max) except the last, which closes at 100.
type ScoreBucket struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// CategoryAverage summarises observed scores for one rubric category.
type CategoryAverage struct {
	CategoryID string  `json:"category_id"`
	Name       string  `json:"name"`
	AvgScore   float64 `json:"avg_score"`
	MaxPoints  int     `json:"max_points"`
	Percentage float64 `json:"percentage"`
	Band       string  `json:"band"`
}

// ReviewerMetrics reports one reviewer's workload and scoring behaviour.
// Counts are derived from the application set, variance from the reviewer's
// review history entries.
type ReviewerMetrics struct {
	ReviewerID     string  `json:"reviewer_id"`
	Name           string  `json:"name"`
	AssignedCount  int     `json:"assigned_count"`
	CompletedCount int     `json:"completed_count"`
	CompletionRate float64 `json:"completion_rate"`
	AvgScore       float64 `json:"avg_score"`
	ScoreVariance  float64 `json:"score_variance"`
}

// PipelineSummary captures headline counts for a workflow's applications.
type PipelineSummary struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	InReview     int     `json:"in_review"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	Unassigned   int     `json:"unassigned"`
	AverageScore float64 `json:"average_score"`
}

// TagCount is one entry of the tag distribution.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// SystemMetrics is a lightweight operational snapshot exposed alongside the
// review analytics.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// AnalyticsReport aggregates the read-side computations for a workflow.
type AnalyticsReport struct {
	Summary           PipelineSummary   `json:"summary"`
	ScoreDistribution []ScoreBucket     `json:"score_distribution"`
	CategoryAverages  []CategoryAverage `json:"category_averages"`
	ReviewerMetrics   []ReviewerMetrics `json:"reviewer_metrics"`
	TagDistribution   []TagCount        `json:"tag_distribution"`
}
