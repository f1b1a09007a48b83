package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

type MaintenanceTrigger interface {
	Trigger(ctx context.Context) error
}

type MaintenanceHandler struct {
	trigger MaintenanceTrigger
}

func NewMaintenanceHandler(trigger MaintenanceTrigger) *MaintenanceHandler {
	return &MaintenanceHandler{trigger: trigger}
}

// Run makes one maintenance attempt. The response is always 204; the
// outcome is visible in the logs and metrics.
func (h *MaintenanceHandler) Run(ctx *gin.Context) {
	if err := h.trigger.Trigger(ctx.Request.Context()); err != nil {
		slog.Warn("Triggered maintenance attempt failed", "error", err)
	}
	ctx.Status(http.StatusNoContent)
}
