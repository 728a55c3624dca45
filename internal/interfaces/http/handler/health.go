package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appintegration "github.com/taskstream/integration-hub/internal/application/integration"
	"github.com/taskstream/integration-hub/internal/interfaces/http/dto"
)

// HealthHandler serves the liveness report. It always answers 200; a
// disconnected integration only turns overallStatus to Degraded.
type HealthHandler struct {
	hub     *appintegration.Hub
	service string
	now     func() time.Time
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(hub *appintegration.Hub, service string) *HealthHandler {
	return &HealthHandler{hub: hub, service: service, now: time.Now}
}

// Health godoc
// @Summary      Health report
// @Tags         health
// @Produce      json
// @Success      200 {object} dto.HealthReport
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	statuses, overall := h.hub.Overall(c.Request.Context())
	c.JSON(http.StatusOK, dto.HealthReport{
		Service:       h.service,
		Timestamp:     h.now().UTC().Format(time.RFC3339),
		Integrations:  statuses,
		OverallStatus: overall,
	})
}
