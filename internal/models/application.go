package models

import (
	"strings"
	"time"
)

// ApplicationStatus is a typed status string. Built-in values cover the
// standard pipeline; stages may define additional custom statuses which are
// carried as-is.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "pending"
	StatusInReview ApplicationStatus = "in_review"
	StatusApproved ApplicationStatus = "approved"
	StatusRejected ApplicationStatus = "rejected"
)

// IsBuiltIn reports whether the status is one of the standard pipeline values.
func (s ApplicationStatus) IsBuiltIn() bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ReviewEntry records one reviewer's scoring pass over an application.
type ReviewEntry struct {
	ReviewerID string             `json:"reviewer_id"`
	Total      float64            `json:"total"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	ReviewedAt time.Time          `json:"reviewed_at"`
}

// StageTransition is one audit entry in an application's stage history.
type StageTransition struct {
	FromStageID string    `json:"from_stage_id"`
	ToStageID   string    `json:"to_stage_id"`
	Reason      string    `json:"reason,omitempty"`
	MovedAt     time.Time `json:"moved_at"`
}

// Application is the engine's view of one submission moving through a
// workflow. It is assembled from the submission row plus the review metadata
// denormalized onto it by the submissions store.
type Application struct {
	ID                string                 `json:"id"`
	FormID            string                 `json:"form_id"`
	ApplicantName     string                 `json:"applicant_name"`
	ApplicantEmail    string                 `json:"applicant_email"`
	WorkflowID        *string                `json:"workflow_id,omitempty"`
	StageID           string                 `json:"stage_id"`
	Status            ApplicationStatus      `json:"status"`
	Score             *float64               `json:"score,omitempty"`
	MaxScore          float64                `json:"max_score"`
	Scores            map[string]float64     `json:"scores,omitempty"`
	Comments          string                 `json:"comments,omitempty"`
	AssignedReviewers []string               `json:"assigned_reviewers"`
	ReviewCount       int                    `json:"review_count"`
	RequiredReviews   int                    `json:"required_reviews"`
	Tags              []string               `json:"tags"`
	Flagged           bool                   `json:"flagged"`
	RawData           map[string]interface{} `json:"raw_data,omitempty"`
	ReviewHistory     []ReviewEntry          `json:"review_history,omitempty"`
	StageHistory      []StageTransition      `json:"stage_history,omitempty"`
	SubmittedAt       time.Time              `json:"submitted_at"`
	Version           int64                  `json:"version"`
}

// AssignedTo reports whether the reviewer already holds this application.
func (a *Application) AssignedTo(reviewerID string) bool {
	for _, id := range a.AssignedReviewers {
		if id == reviewerID {
			return true
		}
	}
	return false
}

// ReviewedBy reports whether the reviewer has recorded scores before.
func (a *Application) ReviewedBy(reviewerID string) bool {
	for _, entry := range a.ReviewHistory {
		if entry.ReviewerID == reviewerID {
			return true
		}
	}
	return false
}

// ApplicationFilter is a conjunction of optional predicates over the
// application set. Zero values mean "not filtered".
type ApplicationFilter struct {
	StageID    string            `json:"stage_id,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Search     string            `json:"search,omitempty"`
	Status     ApplicationStatus `json:"status,omitempty"`
	ScoreMin   *float64          `json:"score_min,omitempty"`
	ScoreMax   *float64          `json:"score_max,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Reviewed   *bool             `json:"reviewed,omitempty"`
}

// Matches evaluates the filter conjunction against one application. An
// application without a workflow matches every workflow filter so unassigned
// submissions stay visible. Applications without a score never match a bound
// score range.
func (f ApplicationFilter) Matches(a *Application) bool {
	if f.StageID != "" && a.StageID != f.StageID {
		return false
	}
	if f.WorkflowID != "" && a.WorkflowID != nil && *a.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.ApplicantName), needle) &&
			!strings.Contains(strings.ToLower(a.ApplicantEmail), needle) {
			return false
		}
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ScoreMin != nil {
		if a.Score == nil || *a.Score < *f.ScoreMin {
			return false
		}
	}
	if f.ScoreMax != nil {
		if a.Score == nil || *a.Score > *f.ScoreMax {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !containsString(a.Tags, tag) {
			return false
		}
	}
	if f.Reviewed != nil {
		if *f.Reviewed && a.ReviewCount == 0 {
			return false
		}
		if !*f.Reviewed && a.ReviewCount > 0 {
			return false
		}
	}
	return true
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
