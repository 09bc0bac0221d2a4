package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ongoingai/agenteval/internal/config"
)

const (
	instrumentationName = "github.com/ongoingai/agenteval"
)

// Runtime exposes OpenTelemetry wrappers and agenteval metric hooks. A nil or
// disabled Runtime is safe to call and records nothing.
type Runtime struct {
	enabled bool

	traceCapturedCounter     metric.Int64Counter
	traceSampledOutCounter   metric.Int64Counter
	traceQueueDroppedCounter metric.Int64Counter
	traceWriteFailedCounter  metric.Int64Counter
	evaluatorFailedCounter   metric.Int64Counter
	evaluationScoreHistogram metric.Float64Histogram

	shutdownFns []func(context.Context) error
}

// Setup initializes OpenTelemetry providers and runtime hooks.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runtime := &Runtime{}
	if !cfg.Enabled {
		return runtime, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An explicit scheme wins over the insecure toggle.
		insecure = inferredInsecure
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)

	if cfg.TracesEnabled {
		traceExporterOptions := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithTimeout(exportTimeout),
		}
		if insecure {
			traceExporterOptions = append(traceExporterOptions, otlptracehttp.WithInsecure())
		}
		traceExporter, err := otlptracehttp.New(ctx, traceExporterOptions...)
		if err != nil {
			return nil, fmt.Errorf("initialize otel trace exporter: %w", err)
		}

		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
			sdktrace.WithBatcher(newScrubbingExporter(traceExporter)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tracerProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, tracerProvider.Shutdown)
	}

	if cfg.MetricsEnabled {
		metricExporterOptions := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithTimeout(exportTimeout),
		}
		if insecure {
			metricExporterOptions = append(metricExporterOptions, otlpmetrichttp.WithInsecure())
		}
		metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOptions...)
		if err != nil {
			_ = runtime.Shutdown(context.Background())
			return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
		}

		reader := sdkmetric.NewPeriodicReader(
			metricExporter,
			sdkmetric.WithInterval(metricInterval),
			sdkmetric.WithTimeout(exportTimeout),
		)
		meterProvider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otel.SetMeterProvider(meterProvider)
		runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	runtime.registerInstruments(otel.Meter(instrumentationName), logger)
	runtime.enabled = true
	if logger != nil {
		logger.Info(
			"opentelemetry enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_traces_enabled", cfg.TracesEnabled,
			"otel_metrics_enabled", cfg.MetricsEnabled,
			"otel_sampling_ratio", cfg.SamplingRatio,
		)
	}

	return runtime, nil
}

func (r *Runtime) registerInstruments(meter metric.Meter, logger *slog.Logger) {
	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry counter", "metric", name, "error", err)
		}
		return c
	}

	r.traceCapturedCounter = counter(
		"agenteval.trace.captured_total",
		"Count of closed traces handed to the collector.",
	)
	r.traceSampledOutCounter = counter(
		"agenteval.trace.sampled_out_total",
		"Count of executions that ran without capture because of the sample rate.",
	)
	r.traceQueueDroppedCounter = counter(
		"agenteval.trace.queue_dropped_total",
		"Count of traces dropped because the async trace queue was full.",
	)
	r.traceWriteFailedCounter = counter(
		"agenteval.trace.write_failed_total",
		"Count of trace records dropped after storage write failures.",
	)
	r.evaluatorFailedCounter = counter(
		"agenteval.evaluator.failures_total",
		"Count of category evaluations that failed and fell back to a neutral score.",
	)

	histogram, err := meter.Float64Histogram(
		"agenteval.evaluation.score",
		metric.WithDescription("Overall evaluation score per run."),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1),
	)
	if err != nil && logger != nil {
		logger.Warn("failed to create opentelemetry histogram", "metric", "agenteval.evaluation.score", "error", err)
	}
	r.evaluationScoreHistogram = histogram
}

// Enabled reports whether OpenTelemetry instrumentation is active.
func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// Tracer returns the agenteval tracer. With OpenTelemetry disabled the global
// no-op provider is used.
func (r *Runtime) Tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName)
}

// WrapHTTPTransport wraps an outbound HTTP transport with OpenTelemetry spans.
func (r *Runtime) WrapHTTPTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !r.Enabled() {
		return base
	}
	return otelhttp.NewTransport(
		base,
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return clientSpanName(req.Method, req.URL.Path)
		}),
	)
}

// RecordTraceCaptured counts a closed trace for system.
func (r *Runtime) RecordTraceCaptured(system string) {
	if !r.Enabled() || r.traceCapturedCounter == nil {
		return
	}
	r.traceCapturedCounter.Add(context.Background(), 1, metric.WithAttributes(systemAttr(system)))
}

// RecordTraceSampledOut counts an execution skipped by the sampling gate.
func (r *Runtime) RecordTraceSampledOut(system string) {
	if !r.Enabled() || r.traceSampledOutCounter == nil {
		return
	}
	r.traceSampledOutCounter.Add(context.Background(), 1, metric.WithAttributes(systemAttr(system)))
}

// RecordTraceQueueDrop increments a counter when the async trace queue is full.
func (r *Runtime) RecordTraceQueueDrop(system string) {
	if !r.Enabled() || r.traceQueueDroppedCounter == nil {
		return
	}
	r.traceQueueDroppedCounter.Add(context.Background(), 1, metric.WithAttributes(systemAttr(system)))
}

// RecordTraceWriteFailure increments a counter for dropped trace records.
func (r *Runtime) RecordTraceWriteFailure(operation string, failedCount int) {
	if !r.Enabled() || failedCount <= 0 || r.traceWriteFailedCounter == nil {
		return
	}
	r.traceWriteFailedCounter.Add(
		context.Background(),
		int64(failedCount),
		metric.WithAttributes(attribute.String("operation", strings.TrimSpace(operation))),
	)
}

// RecordEvaluatorFailure counts a category evaluation that fell back to the
// neutral score.
func (r *Runtime) RecordEvaluatorFailure(ctx context.Context, category string) {
	if !r.Enabled() || r.evaluatorFailedCounter == nil {
		return
	}
	r.evaluatorFailedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// RecordEvaluationScore records the overall score of one evaluation run.
func (r *Runtime) RecordEvaluationScore(ctx context.Context, system string, score float64) {
	if !r.Enabled() || r.evaluationScoreHistogram == nil {
		return
	}
	r.evaluationScoreHistogram.Record(ctx, score, metric.WithAttributes(systemAttr(system)))
}

// Shutdown flushes and stops OpenTelemetry providers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func systemAttr(system string) attribute.KeyValue {
	system = strings.TrimSpace(system)
	if system == "" {
		system = "unknown"
	}
	return attribute.String("system", system)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}

	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}

// routePatternForPath keeps client span names low-cardinality.
func routePatternForPath(path string) string {
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		return "/chat/completions"
	case strings.HasSuffix(path, "/messages"):
		return "/messages"
	default:
		return "/other"
	}
}

func clientSpanName(method, path string) string {
	return "judge " + normalizedMethod(method) + " " + routePatternForPath(path)
}

func normalizedMethod(method string) string {
	method = strings.TrimSpace(method)
	if method == "" {
		return "UNKNOWN"
	}
	return method
}
