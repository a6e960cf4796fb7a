package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Claim outcomes.
const (
	ClaimClaimed     = "claimed"
	ClaimConflict    = "conflict"
	ClaimNotFound    = "not_found"
	ClaimUnavailable = "unavailable"
)

// Delivery outcomes recorded once per handled message after a successful claim.
const (
	OutcomeDone      = "done"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded"
	OutcomeDeferred  = "deferred" // store unavailable, message requeued
)

// Reconciliation actions.
const (
	ReconcileRedispatched = "redispatched"
	ReconcileRequeued     = "requeued"
)

// Metrics holds application metrics following the golden signals:
// - Latency: request and compute durations
// - Traffic: requests, submitted jobs, publishes, claims
// - Errors: HTTP errors, failed publishes, failed jobs
// - Saturation: jobs currently computing
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Submission metrics
	BatchSize     metric.Int64Histogram
	JobsSubmitted metric.Int64Counter
	Publishes     metric.Int64Counter

	// Worker metrics
	Claims          metric.Int64Counter
	Outcomes        metric.Int64Counter
	ComputeDuration metric.Float64Histogram
	JobsRunning     metric.Int64UpDownCounter

	// Reconciliation
	Reconciled metric.Int64Counter
}

// NewMetrics creates all instruments on a dedicated Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("simjobs")
	m := &Metrics{meter: meter}

	// HTTP metrics
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

	// Submission metrics
	m.BatchSize, err = meter.Int64Histogram(
		"job_batch_size",
		metric.WithDescription("Number of jobs requested per batch"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted_total",
		metric.WithDescription("Total number of jobs created"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Publishes, err = meter.Int64Counter(
		"queue_publishes_total",
		metric.WithDescription("Dispatch messages published, by success"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Worker metrics
	m.Claims, err = meter.Int64Counter(
		"job_claims_total",
		metric.WithDescription("Claim attempts (Submitted -> Running), by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Outcomes, err = meter.Int64Counter(
		"job_outcomes_total",
		metric.WithDescription("Handled deliveries after a claim, by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ComputeDuration, err = meter.Float64Histogram(
		"job_compute_duration_seconds",
		metric.WithDescription("Result computation time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsRunning, err = meter.Int64UpDownCounter(
		"jobs_running",
		metric.WithDescription("Jobs currently computing in this process (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Reconciled, err = meter.Int64Counter(
		"jobs_reconciled_total",
		metric.WithDescription("Jobs repaired by the reconciliation sweep, by action"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordBatchSubmitted records a batch request and the jobs it created.
func (m *Metrics) RecordBatchSubmitted(ctx context.Context, requested, created int) {
	m.BatchSize.Record(ctx, int64(requested))
	m.JobsSubmitted.Add(ctx, int64(created))
}

// RecordPublish records one dispatch message publish.
func (m *Metrics) RecordPublish(ctx context.Context, success bool) {
	m.Publishes.Add(ctx, 1, metric.WithAttributes(successAttr(success)))
}

// RecordClaim records the outcome of a claim attempt.
func (m *Metrics) RecordClaim(ctx context.Context, outcome string) {
	m.Claims.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordComputeStarted marks a job as computing.
func (m *Metrics) RecordComputeStarted(ctx context.Context) {
	m.JobsRunning.Add(ctx, 1)
}

// RecordComputeFinished records a finished computation.
func (m *Metrics) RecordComputeFinished(ctx context.Context, success bool, durationSeconds float64) {
	m.JobsRunning.Add(ctx, -1)
	m.ComputeDuration.Record(ctx, durationSeconds, metric.WithAttributes(successAttr(success)))
}

// RecordOutcome records how a claimed delivery ended.
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.Outcomes.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordReconciled records a job repaired by the sweep.
func (m *Metrics) RecordReconciled(ctx context.Context, action string) {
	m.Reconciled.Add(ctx, 1, metric.WithAttributes(actionAttr(action)))
}
