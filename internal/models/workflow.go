package models

import "time"

// StageType distinguishes review stages from pure processing steps.
type StageType string

const (
	// StageTypeReview stages collect reviewer scores against a rubric.
	StageTypeReview StageType = "review"
	// StageTypeProcessing stages hold applications without review activity.
	StageTypeProcessing StageType = "processing"
)

// Workflow is an ordered sequence of stages applied to a workspace's applications.
type Workflow struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// WorkflowUpdate carries partial workflow mutations.
type WorkflowUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// Stage is one ordered step within a workflow. OrderIndex values form a
// dense permutation of 0..N-1 within their workflow.
type Stage struct {
	ID              string      `db:"id" json:"id"`
	WorkflowID      string      `db:"workflow_id" json:"workflow_id"`
	WorkspaceID     string      `db:"workspace_id" json:"workspace_id"`
	Name            string      `db:"name" json:"name"`
	StageType       StageType   `db:"stage_type" json:"stage_type"`
	Description     *string     `db:"description" json:"description,omitempty"`
	OrderIndex      int         `db:"order_index" json:"order_index"`
	RubricID        *string     `db:"rubric_id" json:"rubric_id,omitempty"`
	HidePII         bool        `db:"hide_pii" json:"hide_pii"`
	HiddenPIIFields StringSlice `db:"hidden_pii_fields" json:"hidden_pii_fields"`
	CustomStatuses  StringSlice `db:"custom_statuses" json:"custom_statuses"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updated_at"`
}

// StageUpdate carries partial stage mutations. OrderIndex is managed by the
// reorder operation and deliberately absent here.
type StageUpdate struct {
	Name            *string      `json:"name,omitempty"`
	StageType       *StageType   `json:"stage_type,omitempty"`
	Description     *string      `json:"description,omitempty"`
	RubricID        *string      `json:"rubric_id,omitempty"`
	HidePII         *bool        `json:"hide_pii,omitempty"`
	HiddenPIIFields *StringSlice `json:"hidden_pii_fields,omitempty"`
	CustomStatuses  *StringSlice `json:"custom_statuses,omitempty"`
}

// StageReviewerConfig binds a reviewer type to a stage with review requirements.
type StageReviewerConfig struct {
	ID                 string    `db:"id" json:"id"`
	StageID            string    `db:"stage_id" json:"stage_id"`
	ReviewerTypeID     string    `db:"reviewer_type_id" json:"reviewer_type_id"`
	RubricID           *string   `db:"rubric_id" json:"rubric_id,omitempty"`
	MinReviewsRequired int       `db:"min_reviews_required" json:"min_reviews_required"`
	IsPrimary          bool      `db:"is_primary" json:"is_primary"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// StageWithConfigs bundles a stage with its reviewer configurations.
type StageWithConfigs struct {
	Stage
	ReviewerConfigs []StageReviewerConfig `json:"reviewer_configs"`
}

// PrimaryConfig returns the explicit primary configuration, falling back to
// the earliest created one when none is marked.
func (s StageWithConfigs) PrimaryConfig() *StageReviewerConfig {
	if len(s.ReviewerConfigs) == 0 {
		return nil
	}
	for i := range s.ReviewerConfigs {
		if s.ReviewerConfigs[i].IsPrimary {
			return &s.ReviewerConfigs[i]
		}
	}
	primary := &s.ReviewerConfigs[0]
	for i := range s.ReviewerConfigs {
		if s.ReviewerConfigs[i].CreatedAt.Before(primary.CreatedAt) {
			primary = &s.ReviewerConfigs[i]
		}
	}
	return primary
}

// WorkspaceSettings holds workspace level engine configuration.
type WorkspaceSettings struct {
	WorkspaceID       string    `db:"workspace_id" json:"workspace_id"`
	DefaultWorkflowID *string   `db:"default_workflow_id" json:"default_workflow_id,omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// StageOccupancy reports how many applications sit in a stage.
type StageOccupancy struct {
	StageID string `db:"stage_id" json:"stage_id"`
	Count   int    `db:"count" json:"count"`
}

// WorkspaceSnapshot aggregates the configuration a review client needs in one call.
type WorkspaceSnapshot struct {
	Workflows     []Workflow         `json:"workflows"`
	Rubrics       []Rubric           `json:"rubrics"`
	ReviewerTypes []ReviewerType     `json:"reviewer_types"`
	Stages        []StageWithConfigs `json:"stages"`
}
