package handlers

import (
	"log/slog"
	"net/http"

	"sidequests/services"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the maintenance sweep to operators.
type AdminHandler struct {
	sweeper *services.Sweeper
	logger  *slog.Logger
}

func NewAdminHandler(sweeper *services.Sweeper, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, logger: logger}
}

func (h *AdminHandler) Sweep(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandler) Expire(c *gin.Context) {
	n, err := h.sweeper.Expire(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

func (h *AdminHandler) LastSweep(c *gin.Context) {
	report, err := h.sweeper.LastReport(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no sweep has run yet", "code": string(services.KindNotFound)})
		return
	}
	c.JSON(http.StatusOK, report)
}
