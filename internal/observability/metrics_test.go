package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsExportThroughPrometheus(t *testing.T) {
	m, handler, err := NewMetrics(context.Background(), prometheus.NewRegistry())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordJobSubmitted(ctx, "water_network")
	m.RecordStep(ctx, "partition", true, 42.5)
	m.RecordJobFinished(ctx, "water_network", types.JobStatusFailed, 180)
	m.RecordStatusWriteRetry(ctx)

	body := scrape(t, handler)
	assert.Contains(t, body, "map_jobs_total")
	assert.Contains(t, body, `survey_type="water_network"`)
	assert.Contains(t, body, "engine_step_duration_seconds")
	assert.Contains(t, body, `step="partition"`)
	assert.Contains(t, body, "map_job_errors_total")
	assert.Contains(t, body, "status_write_retries_total")
}

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	m, handler, err := NewMetrics(context.Background(), prometheus.NewRegistry())
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/api/jobs/:job_id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, handler)
	assert.Contains(t, body, `route="/api/jobs/:job_id"`)
	assert.Contains(t, body, `route="unmatched"`)
	assert.Contains(t, body, `status="4xx"`)
}
