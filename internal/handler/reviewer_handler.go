package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/service"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/response"
)

// ReviewerHandler exposes reviewer type, reviewer and session endpoints.
type ReviewerHandler struct {
	reviewers   *service.ReviewerService
	assignments *service.AssignmentService
	analytics   *service.AnalyticsService
}

// NewReviewerHandler constructs handler.
func NewReviewerHandler(reviewers *service.ReviewerService, assignments *service.AssignmentService, analytics *service.AnalyticsService) *ReviewerHandler {
	return &ReviewerHandler{reviewers: reviewers, assignments: assignments, analytics: analytics}
}

// ListTypes godoc
// @Summary List reviewer types for a workspace
// @Tags Reviewers
// @Produce json
// @Param workspaceId query string true "Workspace id"
// @Success 200 {object} response.Envelope
// @Router /reviewer-types [get]
func (h *ReviewerHandler) ListTypes(c *gin.Context) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "workspaceId is required"))
		return
	}
	types, err := h.reviewers.ListTypes(c.Request.Context(), workspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, types, nil)
}

// CreateType godoc
// @Summary Create reviewer type
// @Tags Reviewers
// @Accept json
// @Produce json
// @Param payload body service.UpsertReviewerTypeRequest true "Reviewer type payload"
// @Success 201 {object} response.Envelope
// @Router /reviewer-types [post]
func (h *ReviewerHandler) CreateType(c *gin.Context) {
	var req service.UpsertReviewerTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rType, err := h.reviewers.CreateType(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rType)
}

// UpdateType godoc
// @Summary Update reviewer type
// @Tags Reviewers
// @Accept json
// @Produce json
// @Param id path string true "Reviewer type id"
// @Param payload body service.UpsertReviewerTypeRequest true "Reviewer type payload"
// @Success 200 {object} response.Envelope
// @Router /reviewer-types/{id} [put]
func (h *ReviewerHandler) UpdateType(c *gin.Context) {
	var req service.UpsertReviewerTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rType, err := h.reviewers.UpdateType(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rType, nil)
}

// DeleteType godoc
// @Summary Delete reviewer type
// @Tags Reviewers
// @Param id path string true "Reviewer type id"
// @Success 204
// @Router /reviewer-types/{id} [delete]
func (h *ReviewerHandler) DeleteType(c *gin.Context) {
	if err := h.reviewers.DeleteType(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List reviewers for a form with workload counters
// @Tags Reviewers
// @Produce json
// @Param formId query string true "Form id"
// @Success 200 {object} response.Envelope
// @Router /reviewers [get]
func (h *ReviewerHandler) List(c *gin.Context) {
	formID := c.Query("formId")
	if formID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "formId is required"))
		return
	}
	reviewers, err := h.reviewers.List(c.Request.Context(), formID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviewers, nil)
}

// Create godoc
// @Summary Invite reviewer and mint access token
// @Tags Reviewers
// @Accept json
// @Produce json
// @Param payload body service.CreateReviewerRequest true "Reviewer payload"
// @Success 201 {object} response.Envelope
// @Router /reviewers [post]
func (h *ReviewerHandler) Create(c *gin.Context) {
	var req service.CreateReviewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, err := h.reviewers.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// UpdateStatus godoc
// @Summary Update reviewer lifecycle status
// @Tags Reviewers
// @Accept json
// @Produce json
// @Param id path string true "Reviewer id"
// @Success 200 {object} response.Envelope
// @Router /reviewers/{id}/status [put]
func (h *ReviewerHandler) UpdateStatus(c *gin.Context) {
	var req struct {
		Status models.ReviewerStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.reviewers.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "updated"}, nil)
}

// Delete godoc
// @Summary Revoke reviewer
// @Tags Reviewers
// @Param id path string true "Reviewer id"
// @Success 204
// @Router /reviewers/{id} [delete]
func (h *ReviewerHandler) Delete(c *gin.Context) {
	if err := h.reviewers.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExchangeToken godoc
// @Summary Exchange reviewer access token for a session JWT
// @Tags Reviewers
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reviewer-sessions [post]
func (h *ReviewerHandler) ExchangeToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	session, err := h.reviewers.ExchangeToken(c.Request.Context(), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Assign godoc
// @Summary Assign applications to a reviewer
// @Tags Reviewers
// @Accept json
// @Produce json
// @Param payload body service.AssignReviewerRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /assignments [post]
func (h *ReviewerHandler) Assign(c *gin.Context) {
	var req service.AssignReviewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.assignments.AssignReviewer(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	// Assignments shift the unassigned count and reviewer workload the
	// cached report serves.
	h.analytics.Invalidate(c.Request.Context(), req.FormID)
	response.JSON(c, http.StatusOK, result, nil)
}
