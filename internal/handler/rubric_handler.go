package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/service"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/response"
)

// RubricHandler exposes rubric endpoints.
type RubricHandler struct {
	rubrics *service.RubricService
}

// NewRubricHandler constructs handler.
func NewRubricHandler(rubrics *service.RubricService) *RubricHandler {
	return &RubricHandler{rubrics: rubrics}
}

// List godoc
// @Summary List rubrics for a workspace
// @Tags Rubrics
// @Produce json
// @Param workspaceId query string true "Workspace id"
// @Success 200 {object} response.Envelope
// @Router /rubrics [get]
func (h *RubricHandler) List(c *gin.Context) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "workspaceId is required"))
		return
	}
	rubrics, err := h.rubrics.List(c.Request.Context(), workspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rubrics, nil)
}

// Get godoc
// @Summary Get one rubric
// @Tags Rubrics
// @Produce json
// @Param id path string true "Rubric id"
// @Success 200 {object} response.Envelope
// @Router /rubrics/{id} [get]
func (h *RubricHandler) Get(c *gin.Context) {
	rubric, err := h.rubrics.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rubric, nil)
}

// Create godoc
// @Summary Create rubric
// @Tags Rubrics
// @Accept json
// @Produce json
// @Param payload body service.UpsertRubricRequest true "Rubric payload"
// @Success 201 {object} response.Envelope
// @Router /rubrics [post]
func (h *RubricHandler) Create(c *gin.Context) {
	var req service.UpsertRubricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rubric, err := h.rubrics.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rubric)
}

// Update godoc
// @Summary Replace rubric definition
// @Tags Rubrics
// @Accept json
// @Produce json
// @Param id path string true "Rubric id"
// @Param payload body service.UpsertRubricRequest true "Rubric payload"
// @Success 200 {object} response.Envelope
// @Router /rubrics/{id} [put]
func (h *RubricHandler) Update(c *gin.Context) {
	var req service.UpsertRubricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rubric, err := h.rubrics.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rubric, nil)
}

// Delete godoc
// @Summary Delete rubric
// @Tags Rubrics
// @Param id path string true "Rubric id"
// @Success 204
// @Router /rubrics/{id} [delete]
func (h *RubricHandler) Delete(c *gin.Context) {
	if err := h.rubrics.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
