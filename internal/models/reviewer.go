package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ReviewerType labels a class of reviewers within a workspace.
type ReviewerType struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Permissions BoolMap   `db:"permissions" json:"permissions"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ReviewerStatus tracks a reviewer's lifecycle.
type ReviewerStatus string

const (
	ReviewerStatusActive    ReviewerStatus = "active"
	ReviewerStatusCompleted ReviewerStatus = "completed"
	ReviewerStatusExpired   ReviewerStatus = "expired"
)

// Reviewer is an external review participant identified by an access token.
// Assigned and completed counts are derived from the application set on read
// rather than stored, so they cannot drift.
type Reviewer struct {
	ID             string         `db:"id" json:"id"`
	FormID         string         `db:"form_id" json:"form_id"`
	ReviewerTypeID *string        `db:"reviewer_type_id" json:"reviewer_type_id,omitempty"`
	Name           string         `db:"name" json:"name"`
	Email          string         `db:"email" json:"email"`
	TokenHash      string         `db:"token_hash" json:"-"`
	Status         ReviewerStatus `db:"status" json:"status"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ReviewerWithStats pairs a reviewer with read-side workload counters.
type ReviewerWithStats struct {
	Reviewer
	AssignedCount  int `json:"assigned_count"`
	CompletedCount int `json:"completed_count"`
}

// ReviewerClaims are the JWT claims issued for external review sessions.
type ReviewerClaims struct {
	ReviewerID string `json:"reviewer_id"`
	FormID     string `json:"form_id"`
	jwt.RegisteredClaims
}
