package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Cache metrics
	CacheRequests metric.Int64Counter

	// Source fetch metrics
	FetchCalls    metric.Int64Counter
	FetchDuration metric.Float64Histogram

	// Durable store metrics
	StoreWriteFailures metric.Int64Counter
	StoreEvictions     metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	// Create resource
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	// Create meter provider
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter(serviceName)

	m := &Metrics{
		meter:    meter,
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheRequests, err = m.meter.Int64Counter(
		"timetable.cache.requests",
		metric.WithDescription("Cache lookups partitioned by result (hit/miss/stale)"),
	)
	if err != nil {
		return err
	}

	m.FetchCalls, err = m.meter.Int64Counter(
		"timetable.source.fetch.calls",
		metric.WithDescription("Total source API fetches"),
	)
	if err != nil {
		return err
	}

	m.FetchDuration, err = m.meter.Float64Histogram(
		"timetable.source.fetch.duration",
		metric.WithDescription("Source API fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.StoreWriteFailures, err = m.meter.Int64Counter(
		"timetable.store.write.failures",
		metric.WithDescription("Durable store write failures partitioned by kind"),
	)
	if err != nil {
		return err
	}

	m.StoreEvictions, err = m.meter.Int64Counter(
		"timetable.store.evictions",
		metric.WithDescription("Durable entries removed by age-based eviction"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"timetable.source.circuit.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheResult records the outcome of one cache lookup
func (m *Metrics) RecordCacheResult(ctx context.Context, entity, result string) {
	if m.CacheRequests == nil {
		return
	}
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("result", result),
	))
}

// RecordFetch records one source API fetch
func (m *Metrics) RecordFetch(ctx context.Context, entity, status string, duration time.Duration) {
	if m.FetchCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("status", status),
	)
	m.FetchCalls.Add(ctx, 1, attrs)
	m.FetchDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordStoreWriteFailure records a durable-tier write failure
func (m *Metrics) RecordStoreWriteFailure(ctx context.Context, kind string) {
	if m.StoreWriteFailures == nil {
		return
	}
	m.StoreWriteFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}

// RecordEvictions records entries removed by age-based eviction
func (m *Metrics) RecordEvictions(ctx context.Context, count int64) {
	if m.StoreEvictions == nil {
		return
	}
	m.StoreEvictions.Add(ctx, count)
}

// SetCircuitBreakerState records the breaker state as a gauge
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, name string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(
		attribute.String("breaker", name),
	))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
