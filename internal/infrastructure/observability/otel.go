package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/marketingops/experiments"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount     metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	AssignmentCount  metric.Int64Counter
	StickyCacheHits  metric.Int64Counter
	StickyCacheMiss  metric.Int64Counter
	EventCount       metric.Int64Counter
	AggregationCount metric.Int64Counter
}

// Setup installs OTLP trace and metric exporters plus Go runtime metrics
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		_ = meterProvider.Shutdown(ctx)
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.RequestCount, err = meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.RequestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.AssignmentCount, err = meter.Int64Counter(
		"experiments.assignment.count",
		metric.WithDescription("Number of variant assignments"),
	); err != nil {
		return nil, err
	}

	if m.StickyCacheHits, err = meter.Int64Counter(
		"experiments.sticky_cache.hit.count",
		metric.WithDescription("Assignments served from the sticky cache"),
	); err != nil {
		return nil, err
	}

	if m.StickyCacheMiss, err = meter.Int64Counter(
		"experiments.sticky_cache.miss.count",
		metric.WithDescription("Assignments that ran an allocation algorithm"),
	); err != nil {
		return nil, err
	}

	if m.EventCount, err = meter.Int64Counter(
		"experiments.event.count",
		metric.WithDescription("Number of recorded experiment events"),
	); err != nil {
		return nil, err
	}

	if m.AggregationCount, err = meter.Int64Counter(
		"experiments.aggregation.count",
		metric.WithDescription("Number of daily result rows upserted"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// RecordRequestMetric records a handled HTTP request
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, route string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	)
	metrics.RequestCount.Add(ctx, 1, attrs)
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordAssignment records one assignment and whether the sticky cache served it
func RecordAssignment(ctx context.Context, metrics *Metrics, algorithm string, cached bool) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("algorithm", algorithm))
	metrics.AssignmentCount.Add(ctx, 1, attrs)
	if cached {
		metrics.StickyCacheHits.Add(ctx, 1, attrs)
	} else {
		metrics.StickyCacheMiss.Add(ctx, 1, attrs)
	}
}

// RecordEvent records one ingested event
func RecordEvent(ctx context.Context, metrics *Metrics, eventType string) {
	if metrics == nil {
		return
	}
	metrics.EventCount.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordAggregation records upserted result rows
func RecordAggregation(ctx context.Context, metrics *Metrics, rows int) {
	if metrics == nil {
		return
	}
	metrics.AggregationCount.Add(ctx, int64(rows))
}
