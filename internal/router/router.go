package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/handler"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/observability"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/service"
)

// SetupRouter registers the job API plus the health and metrics endpoints.
// cancel-all sits on a static path beside the :jobId routes; gin resolves
// the overlap because the static segment differs.
func SetupRouter(r *gin.Engine, svc *service.Service, metrics *observability.Metrics, metricsHandler http.Handler, version string) {
	if metrics != nil {
		r.Use(observability.Middleware(metrics))
	}

	hdl := handler.NewHandler(svc)
	api := r.Group("/api")
	{
		api.POST("/jobs", hdl.SubmitMapJob)
		api.GET("/jobs", hdl.ListJobs)
		api.POST("/jobs/cancel-all", hdl.CancelAllJobs)
		api.GET("/jobs/:jobId", hdl.GetJobStatus)
		api.GET("/jobs/:jobId/logs", hdl.GetJobLogs)
		api.GET("/jobs/:jobId/download", hdl.DownloadResult)
		api.POST("/jobs/:jobId/cancel", hdl.CancelJob)
		api.GET("/survey-types", hdl.ListSurveyTypes)
		api.GET("/registry/current", hdl.RegistryCurrent)
		api.POST("/registry/refresh", hdl.RegistryRefresh)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}
}
