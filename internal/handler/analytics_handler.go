package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brightfund/review-api/internal/service"
	appErrors "github.com/brightfund/review-api/pkg/errors"
	"github.com/brightfund/review-api/pkg/response"
)

// AnalyticsHandler exposes review analytics and export endpoints.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	exports   *service.ExportService
	metrics   *service.MetricsService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService, exports *service.ExportService, metrics *service.MetricsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, exports: exports, metrics: metrics}
}

// Report godoc
// @Summary Analytics report for one workflow
// @Tags Analytics
// @Produce json
// @Param formId query string true "Form id"
// @Param workflowId query string true "Workflow id"
// @Success 200 {object} response.Envelope
// @Router /analytics/report [get]
func (h *AnalyticsHandler) Report(c *gin.Context) {
	formID := c.Query("formId")
	workflowID := c.Query("workflowId")
	if formID == "" || workflowID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "formId and workflowId are required"))
		return
	}
	report, err := h.analytics.Report(c.Request.Context(), formID, workflowID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// System godoc
// @Summary Operational metrics snapshot
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/system [get]
func (h *AnalyticsHandler) System(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}

// Export godoc
// @Summary Export filtered applications as CSV or PDF
// @Tags Analytics
// @Produce octet-stream
// @Param formId query string true "Form id"
// @Param format query string true "csv or pdf"
// @Success 200 {file} binary
// @Router /analytics/export [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	formID := c.Query("formId")
	if formID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "formId is required"))
		return
	}
	file, err := h.exports.Export(c.Request.Context(), formID, c.Query("format"), parseFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+file.FileName)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
