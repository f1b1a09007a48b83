package http

import (
	"net/http"

	"github.com/EternisAI/fleet-enroll/internal/api/http/handler"
	"github.com/EternisAI/fleet-enroll/internal/api/http/middleware"
	"github.com/EternisAI/fleet-enroll/internal/runs"
	"github.com/gin-gonic/gin"
)

type Services struct {
	Provisioner handler.Provisioner
	Maintenance handler.MaintenanceTrigger
	Runs        runs.Store
	Metrics     http.Handler
}

func SetupRoute(engine *gin.Engine, cfg Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics))
	}

	v1 := engine.Group("/api/v1")
	admin := v1.Group("", middleware.APIKeyAuth(cfg.AdminAPIKey))

	if srvs.Provisioner != nil {
		provisionHandler := handler.NewProvisionHandler(srvs.Provisioner, cfg.RunTimeout)
		admin.POST("/provision", provisionHandler.Provision)
	}

	if srvs.Maintenance != nil {
		maintenanceHandler := handler.NewMaintenanceHandler(srvs.Maintenance)
		admin.POST("/maintenance/run", maintenanceHandler.Run)
	}

	if srvs.Runs != nil {
		runsHandler := handler.NewRunsHandler(srvs.Runs)
		v1.GET("/runs", runsHandler.List)
		v1.GET("/runs/:id", runsHandler.Get)
	}
}
