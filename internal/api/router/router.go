package router

import (
	"github.com/cuongbtq/scan-orchestrator/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	scanHandler := handler.NewScanHandler(deps)

	// Liveness
	r.GET("/health", scanHandler.Health)

	// Submission requires the bearer token when one is configured;
	// polling endpoints stay open.
	r.POST("/scan", BearerAuthMiddleware(deps.API.AuthToken), scanHandler.CreateScan)

	r.GET("/scans", scanHandler.ListScans)

	jobs := r.Group("/jobs")
	{
		jobs.GET("/:job_id", scanHandler.GetJob)
		jobs.GET("/:job_id/results", scanHandler.GetJobResults)
		jobs.GET("/:job_id/findings", scanHandler.GetJobFindings)
		jobs.GET("/:job_id/logs", scanHandler.GetJobLogs)
	}

	return r
}
