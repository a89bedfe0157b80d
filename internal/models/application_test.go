package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplicationFilterMatches(t *testing.T) {
	workflowID := "wf-1"
	score := 72.0
	app := &Application{
		ID:             "app-1",
		ApplicantName:  "Dana Smith",
		ApplicantEmail: "dana@example.com",
		WorkflowID:     &workflowID,
		StageID:        "stage-1",
		Status:         StatusInReview,
		Score:          &score,
		Tags:           []string{"stem", "finalist"},
		ReviewCount:    1,
	}

	require.True(t, ApplicationFilter{}.Matches(app))
	require.True(t, ApplicationFilter{StageID: "stage-1", WorkflowID: "wf-1", Status: StatusInReview}.Matches(app))
	require.False(t, ApplicationFilter{StageID: "stage-2"}.Matches(app))
	require.False(t, ApplicationFilter{WorkflowID: "wf-2"}.Matches(app))

	// Search is case insensitive over name and email.
	require.True(t, ApplicationFilter{Search: "DANA"}.Matches(app))
	require.True(t, ApplicationFilter{Search: "example.com"}.Matches(app))
	require.False(t, ApplicationFilter{Search: "nobody"}.Matches(app))

	// Tag filters require every listed tag.
	require.True(t, ApplicationFilter{Tags: []string{"stem", "finalist"}}.Matches(app))
	require.False(t, ApplicationFilter{Tags: []string{"stem", "arts"}}.Matches(app))

	min, max := 70.0, 80.0
	require.True(t, ApplicationFilter{ScoreMin: &min, ScoreMax: &max}.Matches(app))
	tooHigh := 75.0
	require.False(t, ApplicationFilter{ScoreMin: &tooHigh}.Matches(app))

	reviewed := true
	require.True(t, ApplicationFilter{Reviewed: &reviewed}.Matches(app))
	unreviewed := false
	require.False(t, ApplicationFilter{Reviewed: &unreviewed}.Matches(app))
}

func TestApplicationFilterUnassignedWorkflowVisibility(t *testing.T) {
	app := &Application{ID: "app-1", Status: StatusPending}
	// An application that is not in any workflow matches every workflow filter.
	require.True(t, ApplicationFilter{WorkflowID: "wf-1"}.Matches(app))
	require.True(t, ApplicationFilter{WorkflowID: "wf-2"}.Matches(app))
}

func TestApplicationFilterUnscoredNeverMatchesRange(t *testing.T) {
	app := &Application{ID: "app-1", Status: StatusPending}
	min := 0.0
	require.False(t, ApplicationFilter{ScoreMin: &min}.Matches(app))
	max := 100.0
	require.False(t, ApplicationFilter{ScoreMax: &max}.Matches(app))
}

func TestApplicationStatusIsBuiltIn(t *testing.T) {
	require.True(t, StatusPending.IsBuiltIn())
	require.True(t, StatusApproved.IsBuiltIn())
	require.False(t, ApplicationStatus("waitlisted").IsBuiltIn())
}

func TestApplicationAssignedToAndReviewedBy(t *testing.T) {
	app := &Application{
		AssignedReviewers: []string{"rev-1"},
		ReviewHistory:     []ReviewEntry{{ReviewerID: "rev-2", Total: 50}},
	}
	require.True(t, app.AssignedTo("rev-1"))
	require.False(t, app.AssignedTo("rev-2"))
	require.True(t, app.ReviewedBy("rev-2"))
	require.False(t, app.ReviewedBy("rev-1"))
}
