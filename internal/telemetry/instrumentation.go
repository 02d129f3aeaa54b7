package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes stay bounded: operation, status, module name
// and component. Titles, chapter ids, image urls and paths belong in logs.

// InstrumentedFunc is the unit of work wrapped by the Instrument helpers.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName. Without a
// tracer it only runs fn.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := operationStatus(err)

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	// The message goes to the span status, never to an attribute.
	if err != nil && status != "interrupted" {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, operationStatus(err), time.Since(start))

	return err
}

// InstrumentModuleOperation instruments calls into a site module.
func (t *Telemetry) InstrumentModuleOperation(ctx context.Context, module, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "module_"+operation, "module", fn)

	t.RecordModuleOperation(module, operation, operationStatus(err))

	return err
}

// InstrumentDownload instruments one admitted download. Cancelled downloads
// are recorded as interrupted.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads()
	defer t.DecrementActiveDownloads()

	err := t.InstrumentOperation(ctx, "download", "downloader", fn)

	t.RecordDownload(operationStatus(err), time.Since(start))

	return err
}

func operationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return "error"
	}
}
