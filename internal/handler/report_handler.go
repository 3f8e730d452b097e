package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/service"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/response"
)

// ReportHandler exposes report submission and tracking endpoints.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Submit godoc
// @Summary Submit class report
// @Description Files the report and forces the attendance-driven status
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.SubmitReportRequest true "Report payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{id}/report [post]
func (h *ReportHandler) Submit(c *gin.Context) {
	var req dto.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lesson, err := h.reports.Submit(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// Status godoc
// @Summary Get submission status
// @Description Describes the report window for one lesson
// @Tags Reports
// @Produce json
// @Param id path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lessons/{id}/report/status [get]
func (h *ReportHandler) Status(c *gin.Context) {
	status, err := h.reports.SubmissionStatus(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Extend godoc
// @Summary Grant submission extension
// @Description Opens a fresh window; a new grant replaces the previous one
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.ExtensionRequest true "Extension payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{id}/report/extension [post]
func (h *ReportHandler) Extend(c *gin.Context) {
	var req dto.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lesson, err := h.reports.GrantExtension(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}
