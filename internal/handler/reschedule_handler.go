package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/service"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/response"
)

// RescheduleHandler exposes the change-request negotiation endpoints.
type RescheduleHandler struct {
	reschedules *service.RescheduleService
}

// NewRescheduleHandler constructs handler.
func NewRescheduleHandler(reschedules *service.RescheduleService) *RescheduleHandler {
	return &RescheduleHandler{reschedules: reschedules}
}

// Request godoc
// @Summary Open a reschedule request
// @Description Attaches a pending change request to a scheduled lesson
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.RescheduleProposal true "Proposal"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{id}/reschedule-requests [post]
func (h *RescheduleHandler) Request(c *gin.Context) {
	var req dto.RescheduleProposal
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.reschedules.Request(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Decide godoc
// @Summary Decide a pending reschedule request
// @Description Approves (applying the move) or rejects the pending request
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.RescheduleDecision true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{id}/reschedule-requests/decision [post]
func (h *RescheduleHandler) Decide(c *gin.Context) {
	var req dto.RescheduleDecision
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lesson, err := h.reschedules.Decide(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}

// Direct godoc
// @Summary Directly reschedule a lesson
// @Description Moves the lesson without the negotiation protocol
// @Tags Reschedules
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.DirectReschedule true "New schedule"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /lessons/{id}/reschedule [post]
func (h *RescheduleHandler) Direct(c *gin.Context) {
	var req dto.DirectReschedule
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lesson, err := h.reschedules.DirectReschedule(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson, nil)
}
