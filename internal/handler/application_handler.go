package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/middleware"
	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/service"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/response"
)

// ApplicationHandler exposes application listing, transition, scoring and
// bulk assignment endpoints.
type ApplicationHandler struct {
	analytics   *service.AnalyticsService
	assignments *service.AssignmentService
	transitions *service.TransitionService
	scoring     *service.ScoringService
	metrics     *service.MetricsService
}

// NewApplicationHandler constructs handler.
func NewApplicationHandler(analytics *service.AnalyticsService, assignments *service.AssignmentService, transitions *service.TransitionService, scoring *service.ScoringService, metrics *service.MetricsService) *ApplicationHandler {
	return &ApplicationHandler{
		analytics:   analytics,
		assignments: assignments,
		transitions: transitions,
		scoring:     scoring,
		metrics:     metrics,
	}
}

func parseFilter(c *gin.Context) models.ApplicationFilter {
	filter := models.ApplicationFilter{
		StageID:    c.Query("stageId"),
		WorkflowID: c.Query("workflowId"),
		Search:     c.Query("search"),
		Status:     models.ApplicationStatus(c.Query("status")),
	}
	if raw := c.Query("scoreMin"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			filter.ScoreMin = &v
		}
	}
	if raw := c.Query("scoreMax"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			filter.ScoreMax = &v
		}
	}
	if raw := c.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}
	if raw := c.Query("reviewed"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.Reviewed = &v
		}
	}
	return filter
}

// List godoc
// @Summary List applications matching a filter
// @Tags Applications
// @Produce json
// @Param formId query string true "Form id"
// @Param stageId query string false "Stage filter"
// @Param workflowId query string false "Workflow filter"
// @Param search query string false "Name or email substring"
// @Param status query string false "Status filter"
// @Param scoreMin query number false "Minimum score"
// @Param scoreMax query number false "Maximum score"
// @Param tags query string false "Comma separated tags, all required"
// @Param reviewed query boolean false "Reviewed filter"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	formID := c.Query("formId")
	if formID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "formId is required"))
		return
	}
	apps, err := h.analytics.FilterApplications(c.Request.Context(), formID, parseFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if claims, ok := middleware.ReviewerFromContext(c); ok && claims != nil {
		for i := range apps {
			redacted, err := h.scoring.RedactPII(c.Request.Context(), &apps[i])
			if err != nil {
				response.Error(c, err)
				return
			}
			apps[i] = *redacted
		}
	}
	response.JSON(c, http.StatusOK, apps, nil)
}

// MoveToStage godoc
// @Summary Move application to a stage
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application id"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/stage [put]
func (h *ApplicationHandler) MoveToStage(c *gin.Context) {
	var req struct {
		StageID string `json:"stage_id"`
		Reason  string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.transitions.MoveToStage(c.Request.Context(), service.MoveToStageRequest{
		ApplicationID: c.Param("id"),
		StageID:       req.StageID,
		Reason:        req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if app.WorkflowID != nil {
		h.metrics.RecordTransition(*app.WorkflowID)
	}
	h.analytics.Invalidate(c.Request.Context(), app.FormID)
	response.JSON(c, http.StatusOK, app, nil)
}

// RecordScores godoc
// @Summary Record reviewer scores for an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application id"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/scores [post]
func (h *ApplicationHandler) RecordScores(c *gin.Context) {
	var req struct {
		ReviewerID string             `json:"reviewer_id"`
		Scores     map[string]float64 `json:"scores"`
		Comments   string             `json:"comments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	reviewerID := req.ReviewerID
	if claims, ok := middleware.ReviewerFromContext(c); ok && claims != nil {
		reviewerID = claims.ReviewerID
	}
	app, err := h.scoring.RecordScores(c.Request.Context(), service.RecordScoresRequest{
		ApplicationID: c.Param("id"),
		ReviewerID:    reviewerID,
		Scores:        req.Scores,
		Comments:      req.Comments,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordScoringPass()
	h.analytics.Invalidate(c.Request.Context(), app.FormID)
	response.JSON(c, http.StatusOK, app, nil)
}

// RecordDecision godoc
// @Summary Record application status decision
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application id"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/decision [post]
func (h *ApplicationHandler) RecordDecision(c *gin.Context) {
	var req struct {
		Status models.ApplicationStatus `json:"status"`
		Reason string                   `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.scoring.RecordDecision(c.Request.Context(), service.RecordDecisionRequest{
		ApplicationID: c.Param("id"),
		Status:        req.Status,
		Reason:        req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.analytics.Invalidate(c.Request.Context(), app.FormID)
	response.JSON(c, http.StatusOK, app, nil)
}

// UpdateDetails godoc
// @Summary Update application tags, flag or comments
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application id"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/details [patch]
func (h *ApplicationHandler) UpdateDetails(c *gin.Context) {
	var req struct {
		Tags     *[]string `json:"tags"`
		Flagged  *bool     `json:"flagged"`
		Comments *string   `json:"comments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.scoring.UpdateDetails(c.Request.Context(), service.UpdateReviewDetailsRequest{
		ApplicationID: c.Param("id"),
		Tags:          req.Tags,
		Flagged:       req.Flagged,
		Comments:      req.Comments,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	h.analytics.Invalidate(c.Request.Context(), app.FormID)
	response.JSON(c, http.StatusOK, app, nil)
}

// BulkAssignWorkflow godoc
// @Summary Place applications into a workflow's first stage
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.BulkAssignWorkflowRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /assignments/bulk [post]
func (h *ApplicationHandler) BulkAssignWorkflow(c *gin.Context) {
	var req service.BulkAssignWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.assignments.BulkAssignWorkflow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if req.FormID != "" {
		h.analytics.Invalidate(c.Request.Context(), req.FormID)
	}
	status := http.StatusOK
	if len(result.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, result, nil)
}

// AssignAllUnassigned godoc
// @Summary Place all unassigned applications into a workflow
// @Description Targets workflow_id when given, otherwise the workspace default.
// @Tags Applications
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /assignments/unassigned [post]
func (h *ApplicationHandler) AssignAllUnassigned(c *gin.Context) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		FormID      string `json:"form_id"`
		WorkflowID  string `json:"workflow_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkspaceID == "" || req.FormID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "workspace_id and form_id are required"))
		return
	}
	result, err := h.assignments.AssignAllUnassigned(c.Request.Context(), req.WorkspaceID, req.FormID, req.WorkflowID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.analytics.Invalidate(c.Request.Context(), req.FormID)
	status := http.StatusOK
	if len(result.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, result, nil)
}
