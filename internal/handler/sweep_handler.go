package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waraqaweb/classes-api/internal/service"
	"github.com/waraqaweb/classes-api/pkg/response"
)

// SweepHandler lets admins trigger a sweep outside its schedule.
type SweepHandler struct {
	sweeps *service.SweepService
}

// NewSweepHandler constructs handler.
func NewSweepHandler(sweeps *service.SweepService) *SweepHandler {
	return &SweepHandler{sweeps: sweeps}
}

// Run godoc
// @Summary Run a sweep immediately
// @Tags Sweeps
// @Produce json
// @Param name path string true "Sweep name" Enums(materialize, tracking-init, unreported, cleanup)
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sweeps/{name}/run [post]
func (h *SweepHandler) Run(c *gin.Context) {
	processed, touched, err := h.sweeps.RunOnce(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"processed": processed, "touched": touched}, nil)
}
