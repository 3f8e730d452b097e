package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waraqaweb/classes-api/internal/dto"
	"github.com/waraqaweb/classes-api/internal/service"
	appErrors "github.com/waraqaweb/classes-api/pkg/errors"
	"github.com/waraqaweb/classes-api/pkg/response"
)

// PatternHandler exposes recurring-lesson template endpoints. Admin only.
type PatternHandler struct {
	recurrence *service.RecurrenceService
}

// NewPatternHandler constructs handler.
func NewPatternHandler(recurrence *service.RecurrenceService) *PatternHandler {
	return &PatternHandler{recurrence: recurrence}
}

// Create godoc
// @Summary Create recurring-lesson pattern
// @Description Stores the template and materializes its first generation window
// @Tags Patterns
// @Accept json
// @Produce json
// @Param payload body dto.CreatePatternRequest true "Pattern payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /patterns [post]
func (h *PatternHandler) Create(c *gin.Context) {
	var req dto.CreatePatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	pattern, generated, err := h.recurrence.CreatePattern(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"pattern": pattern, "generated": generated}, nil)
}

// Get godoc
// @Summary Get pattern
// @Tags Patterns
// @Produce json
// @Param id path string true "Pattern ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /patterns/{id} [get]
func (h *PatternHandler) Get(c *gin.Context) {
	pattern, err := h.recurrence.GetPattern(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pattern, nil)
}

// Update godoc
// @Summary Edit pattern
// @Description Replaces the rules and regenerates untouched future instances
// @Tags Patterns
// @Accept json
// @Produce json
// @Param id path string true "Pattern ID"
// @Param payload body dto.UpdatePatternRequest true "Pattern payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /patterns/{id} [put]
func (h *PatternHandler) Update(c *gin.Context) {
	var req dto.UpdatePatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	pattern, regenerated, err := h.recurrence.EditPattern(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"pattern": pattern, "regenerated": regenerated}, nil)
}

// DeleteLessons godoc
// @Summary Delete generated instances
// @Description Removes instances by scope; scope "all" also removes the template
// @Tags Patterns
// @Accept json
// @Produce json
// @Param id path string true "Pattern ID"
// @Param payload body dto.DeleteLessonsRequest true "Delete scope"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /patterns/{id} [delete]
func (h *PatternHandler) DeleteLessons(c *gin.Context) {
	var req dto.DeleteLessonsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	deleted, err := h.recurrence.DeleteLessons(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"deleted": deleted}, nil)
}
