package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/models"
	"github.com/brightfund/review-api/internal/service"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/response"
)

// WorkflowHandler exposes workflow, stage and stage config endpoints.
type WorkflowHandler struct {
	workflows   *service.WorkflowService
	transitions *service.TransitionService
}

// NewWorkflowHandler constructs handler.
func NewWorkflowHandler(workflows *service.WorkflowService, transitions *service.TransitionService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, transitions: transitions}
}

// List godoc
// @Summary List workflows for a workspace
// @Tags Workflows
// @Produce json
// @Param workspaceId query string true "Workspace id"
// @Success 200 {object} response.Envelope
// @Router /workflows [get]
func (h *WorkflowHandler) List(c *gin.Context) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "workspaceId is required"))
		return
	}
	workflows, err := h.workflows.ListWorkflows(c.Request.Context(), workspaceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, workflows, nil)
}

// Get godoc
// @Summary Get one workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow id"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id} [get]
func (h *WorkflowHandler) Get(c *gin.Context) {
	workflow, err := h.workflows.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, workflow, nil)
}

// Create godoc
// @Summary Create workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param payload body service.CreateWorkflowRequest true "Workflow payload"
// @Success 201 {object} response.Envelope
// @Router /workflows [post]
func (h *WorkflowHandler) Create(c *gin.Context) {
	var req service.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	workflow, err := h.workflows.CreateWorkflow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, workflow)
}

// Update godoc
// @Summary Update workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow id"
// @Param payload body models.WorkflowUpdate true "Partial update"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id} [patch]
func (h *WorkflowHandler) Update(c *gin.Context) {
	var update models.WorkflowUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	workflow, err := h.workflows.UpdateWorkflow(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, workflow, nil)
}

// Delete godoc
// @Summary Delete workflow
// @Tags Workflows
// @Param id path string true "Workflow id"
// @Success 204
// @Router /workflows/{id} [delete]
func (h *WorkflowHandler) Delete(c *gin.Context) {
	if err := h.workflows.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetDefault godoc
// @Summary Set workspace default workflow
// @Tags Workflows
// @Accept json
// @Produce json
// @Param workspaceId path string true "Workspace id"
// @Success 200 {object} response.Envelope
// @Router /workspaces/{workspaceId}/default-workflow [put]
func (h *WorkflowHandler) SetDefault(c *gin.Context) {
	var req struct {
		WorkflowID *string `json:"workflow_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.workflows.SetDefaultWorkflow(c.Request.Context(), c.Param("workspaceId"), req.WorkflowID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "updated"}, nil)
}

// Snapshot godoc
// @Summary Workspace review snapshot
// @Tags Workflows
// @Produce json
// @Param workspaceId path string true "Workspace id"
// @Success 200 {object} response.Envelope
// @Router /workspaces/{workspaceId}/snapshot [get]
func (h *WorkflowHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.workflows.Snapshot(c.Request.Context(), c.Param("workspaceId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// ListStages godoc
// @Summary List workflow stages in order
// @Tags Stages
// @Produce json
// @Param id path string true "Workflow id"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id}/stages [get]
func (h *WorkflowHandler) ListStages(c *gin.Context) {
	stages, err := h.workflows.ListStages(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stages, nil)
}

// Occupancy godoc
// @Summary Stage occupancy counts
// @Tags Stages
// @Produce json
// @Param id path string true "Workflow id"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id}/occupancy [get]
func (h *WorkflowHandler) Occupancy(c *gin.Context) {
	occupancy, err := h.transitions.StageOccupancy(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occupancy, nil)
}

// CreateStage godoc
// @Summary Create stage at the end of a workflow
// @Tags Stages
// @Accept json
// @Produce json
// @Param payload body service.CreateStageRequest true "Stage payload"
// @Success 201 {object} response.Envelope
// @Router /stages [post]
func (h *WorkflowHandler) CreateStage(c *gin.Context) {
	var req service.CreateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	stage, err := h.workflows.CreateStage(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, stage)
}

// GetStage godoc
// @Summary Get one stage with reviewer configs
// @Tags Stages
// @Produce json
// @Param id path string true "Stage id"
// @Success 200 {object} response.Envelope
// @Router /stages/{id} [get]
func (h *WorkflowHandler) GetStage(c *gin.Context) {
	stage, err := h.workflows.GetStage(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stage, nil)
}

// UpdateStage godoc
// @Summary Update stage
// @Tags Stages
// @Accept json
// @Produce json
// @Param id path string true "Stage id"
// @Param payload body models.StageUpdate true "Partial update"
// @Success 200 {object} response.Envelope
// @Router /stages/{id} [patch]
func (h *WorkflowHandler) UpdateStage(c *gin.Context) {
	var update models.StageUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	stage, err := h.workflows.UpdateStage(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stage, nil)
}

// DeleteStage godoc
// @Summary Delete stage and renumber survivors
// @Tags Stages
// @Param id path string true "Stage id"
// @Success 204
// @Router /stages/{id} [delete]
func (h *WorkflowHandler) DeleteStage(c *gin.Context) {
	if err := h.workflows.DeleteStage(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReorderStage godoc
// @Summary Move a stage before another stage
// @Tags Stages
// @Accept json
// @Produce json
// @Param payload body service.ReorderStagesRequest true "Reorder payload"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id}/stages/reorder [post]
func (h *WorkflowHandler) ReorderStage(c *gin.Context) {
	var req service.ReorderStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	stages, err := h.workflows.ReorderStage(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stages, nil)
}

// CreateStageConfig godoc
// @Summary Bind reviewer type to a stage
// @Tags Stages
// @Accept json
// @Produce json
// @Param payload body service.UpsertStageConfigRequest true "Config payload"
// @Success 201 {object} response.Envelope
// @Router /stage-configs [post]
func (h *WorkflowHandler) CreateStageConfig(c *gin.Context) {
	var req service.UpsertStageConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	config, err := h.workflows.CreateStageConfig(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, config)
}

// UpdateStageConfig godoc
// @Summary Update stage reviewer config
// @Tags Stages
// @Accept json
// @Produce json
// @Param id path string true "Config id"
// @Param payload body service.UpsertStageConfigRequest true "Config payload"
// @Success 200 {object} response.Envelope
// @Router /stage-configs/{id} [put]
func (h *WorkflowHandler) UpdateStageConfig(c *gin.Context) {
	var req service.UpsertStageConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	config, err := h.workflows.UpdateStageConfig(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, config, nil)
}

// DeleteStageConfig godoc
// @Summary Delete stage reviewer config
// @Tags Stages
// @Param id path string true "Config id"
// @Success 204
// @Router /stage-configs/{id} [delete]
func (h *WorkflowHandler) DeleteStageConfig(c *gin.Context) {
	if err := h.workflows.DeleteStageConfig(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
