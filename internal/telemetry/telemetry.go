// Package telemetry exposes the engine metrics over Prometheus (and
// optionally OTLP) and the tracing helpers used around downloads, module
// calls and database writes.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the instruments. The zero value records nothing, which is
// what components fall back to when they are given nil.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter

	// RED
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// USE
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge
	diskUsage      metric.Int64Gauge

	// Engine
	downloadsTotal        metric.Int64Counter
	downloadsActive       metric.Int64UpDownCounter
	downloadDuration      metric.Float64Histogram
	imagesTotal           metric.Int64Counter
	imageBytes            metric.Int64Counter
	imageRetries          metric.Int64Counter
	schedulerPromotions   metric.Int64Counter
	moduleOperationsTotal metric.Int64Counter
	moduleErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram

	systemErrors metric.Int64Counter
	systemUptime metric.Float64Gauge
}

type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint additionally pushes metrics over OTLP/gRPC when set.
	OTLPEndpoint string
}

// New sets up the meter provider and every instrument. A disabled config
// returns the zero value.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New(prometheus.WithoutUnits())
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         meterProvider.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

func (t *Telemetry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", route),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

func (t *Telemetry) IncrementHTTPInFlight() { addUpDown(t.httpRequestsInFlight, 1) }

func (t *Telemetry) DecrementHTTPInFlight() { addUpDown(t.httpRequestsInFlight, -1) }

// RecordDownload records one admitted download run ending with status.
func (t *Telemetry) RecordDownload(status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1, attrs)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

func (t *Telemetry) IncrementActiveDownloads() { addUpDown(t.downloadsActive, 1) }

func (t *Telemetry) DecrementActiveDownloads() { addUpDown(t.downloadsActive, -1) }

// RecordImageDownload records one finished image attempt. Module names are
// a small fixed set and safe as an attribute.
func (t *Telemetry) RecordImageDownload(module, status string, bytes int64) {
	if t.imagesTotal != nil {
		t.imagesTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("module", module),
			attribute.String("status", status),
		))
	}

	if t.imageBytes != nil && bytes > 0 {
		t.imageBytes.Add(context.Background(), bytes, metric.WithAttributes(attribute.String("module", module)))
	}
}

// RecordImageRetry records a failed image attempt that will be retried.
func (t *Telemetry) RecordImageRetry(module string) {
	if t.imageRetries != nil {
		t.imageRetries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("module", module)))
	}
}

// RecordSchedulerPromotion records a download moved from Queue to Downloading.
func (t *Telemetry) RecordSchedulerPromotion() {
	if t.schedulerPromotions != nil {
		t.schedulerPromotions.Add(context.Background(), 1)
	}
}

func (t *Telemetry) RecordModuleOperation(module, operation, status string) {
	if t.moduleOperationsTotal != nil {
		t.moduleOperationsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("module", module),
			attribute.String("operation", operation),
			attribute.String("status", status),
		))
	}

	if status == "error" && t.moduleErrors != nil {
		t.moduleErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("module", module),
			attribute.String("operation", operation),
		))
	}
}

func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordDiskUsage records the bytes stored under the download directory.
func (t *Telemetry) RecordDiskUsage(bytes int64) {
	if t.diskUsage != nil {
		t.diskUsage.Record(context.Background(), bytes)
	}
}

func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("error_type", errorType),
		))
	}
}

// Handler serves the Prometheus scrape endpoint, or 404 when disabled.
func (t *Telemetry) Handler() http.Handler {
	if t.meterProvider == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes the exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return t.meterProvider.Shutdown(ctx)
}

func addUpDown(c metric.Int64UpDownCounter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}

// instruments creates instruments on one meter and keeps the first error, so
// initializeMetrics reads as a list.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
}

func (b *instruments) counter(name, description, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	b.keep(name, err)

	return c
}

func (b *instruments) upDown(name, description, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(description), metric.WithUnit(unit))
	b.keep(name, err)

	return c
}

func (b *instruments) histogram(name, description string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("s"))
	b.keep(name, err)

	return h
}

func (b *instruments) gauge(name, description, unit string) metric.Int64Gauge {
	g, err := b.meter.Int64Gauge(name, metric.WithDescription(description), metric.WithUnit(unit))
	b.keep(name, err)

	return g
}

func (t *Telemetry) initializeMetrics() error {
	b := &instruments{meter: t.meter}

	t.httpRequestsTotal = b.counter("http_requests_total", "Total number of HTTP requests", "{request}")
	t.httpRequestDuration = b.histogram("http_request_duration_seconds", "HTTP request duration in seconds")
	t.httpRequestsInFlight = b.upDown("http_requests_in_flight", "Number of HTTP requests currently being processed", "{request}")

	t.memoryUsage = b.gauge("memory_usage_bytes", "Memory usage in bytes", "By")
	t.goroutineCount = b.gauge("goroutine_count", "Number of goroutines", "{goroutine}")
	t.diskUsage = b.gauge("disk_usage_bytes", "Bytes stored under the download directory", "By")

	t.downloadsTotal = b.counter("downloads_total", "Total number of download runs", "{download}")
	t.downloadsActive = b.upDown("downloads_active", "Number of downloads currently admitted", "{download}")
	t.downloadDuration = b.histogram("download_duration_seconds", "Download run duration in seconds")
	t.imagesTotal = b.counter("images_total", "Total number of image downloads", "{image}")
	t.imageBytes = b.counter("image_bytes_total", "Total number of image bytes written", "By")
	t.imageRetries = b.counter("image_retries_total", "Total number of retried image attempts", "{attempt}")
	t.schedulerPromotions = b.counter("scheduler_promotions_total", "Total number of downloads admitted by the scheduler", "{download}")
	t.moduleOperationsTotal = b.counter("module_operations_total", "Total number of module operations", "{operation}")
	t.moduleErrors = b.counter("module_errors_total", "Total number of module errors", "{error}")
	t.dbOperationsTotal = b.counter("db_operations_total", "Total number of database operations", "{operation}")
	t.dbOperationDuration = b.histogram("db_operation_duration_seconds", "Database operation duration in seconds")

	t.systemErrors = b.counter("system_errors_total", "Total number of system errors", "{error}")

	uptime, err := t.meter.Float64Gauge("system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
	)
	b.keep("system_uptime_seconds", err)
	t.systemUptime = uptime

	return b.err
}

// collectSystemMetrics samples the process gauges until ctx is done.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats

			runtime.ReadMemStats(&m)

			t.memoryUsage.Record(context.Background(), int64(m.Alloc))
			t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
			t.systemUptime.Record(context.Background(), time.Since(start).Seconds())
		}
	}
}
