package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

// Metrics covers the four golden signals for the HTTP surface and the job
// pipeline. Geoprocessing runs for minutes to hours, so the job buckets are
// far coarser than the HTTP ones.
type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	JobDuration   metric.Float64Histogram
	JobsSubmitted metric.Int64Counter
	JobErrors     metric.Int64Counter
	JobsActive    metric.Int64UpDownCounter

	StepDuration metric.Float64Histogram

	StatusWriteRetries metric.Int64Counter
}

// NewMetrics registers all instruments with a Prometheus exporter. A nil
// registry means the default one; tests pass their own so runs stay isolated.
func NewMetrics(ctx context.Context, registry *prometheus.Registry) (*Metrics, http.Handler, error) {
	var opts []otelprom.Option
	handler := promhttp.Handler()
	if registry != nil {
		opts = append(opts, otelprom.WithRegisterer(registry))
		handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("mapsrv")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"map_job_duration_seconds",
		metric.WithDescription("Map-creation job duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(60, 300, 600, 1200, 1800, 3600, 7200, 14400),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter(
		"map_jobs_total",
		metric.WithDescription("Total number of jobs accepted for processing"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrors, err = meter.Int64Counter(
		"map_job_errors_total",
		metric.WithDescription("Total number of jobs that ended failed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"map_jobs_active",
		metric.WithDescription("Number of jobs currently being driven (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StepDuration, err = meter.Float64Histogram(
		"engine_step_duration_seconds",
		metric.WithDescription("ArcPy worker step duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(10, 30, 60, 120, 300, 600, 1800, 3600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StatusWriteRetries, err = meter.Int64Counter(
		"status_write_retries_total",
		metric.WithDescription("Durable status writes that needed a retry"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, handler, nil
}

// RecordHTTPRequest records one served request against its route template.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobSubmitted records a job entering the pipeline.
func (m *Metrics) RecordJobSubmitted(ctx context.Context, surveyType string) {
	attrs := metric.WithAttributes(surveyAttr(surveyType))
	m.JobsSubmitted.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobFinished records a job reaching any terminal state.
func (m *Metrics) RecordJobFinished(ctx context.Context, surveyType string, status types.JobStatus, durationSeconds float64) {
	m.JobDuration.Record(ctx, durationSeconds, metric.WithAttributes(surveyAttr(surveyType), outcomeAttr(status)))
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(surveyAttr(surveyType)))

	if status == types.JobStatusFailed {
		m.JobErrors.Add(ctx, 1, metric.WithAttributes(surveyAttr(surveyType)))
	}
}

// RecordStep records one engine checkpoint invocation.
func (m *Metrics) RecordStep(ctx context.Context, step string, success bool, durationSeconds float64) {
	m.StepDuration.Record(ctx, durationSeconds, metric.WithAttributes(stepAttr(step), successAttr(success)))
}

// RecordStatusWriteRetry records one failed attempt at a durable status
// write. A burst of these precedes a swallowed update.
func (m *Metrics) RecordStatusWriteRetry(ctx context.Context) {
	m.StatusWriteRetries.Add(ctx, 1)
}
