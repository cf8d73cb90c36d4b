package mailbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/workspace-mailbox"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the mailbox service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	listLatency   metric.Float64Histogram
	listCount     metric.Int64Counter
	listErrors    metric.Int64Counter
	getLatency    metric.Float64Histogram
	getCount      metric.Int64Counter
	getErrors     metric.Int64Counter
	handleLatency metric.Float64Histogram
	handleCount   metric.Int64Counter
	handleErrors  metric.Int64Counter
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter
	bulkLatency   metric.Float64Histogram
	bulkCount     metric.Int64Counter
	bulkErrors    metric.Int64Counter
	bulkMessages  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// operationInstruments creates the duration, count and error instruments
// shared by every operation.
func operationInstruments(meter metric.Meter, op string) (metric.Float64Histogram, metric.Int64Counter, metric.Int64Counter, error) {
	latency, err := meter.Float64Histogram(
		"mailbox."+op+".duration",
		metric.WithDescription("Duration of "+op+" operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	count, err := meter.Int64Counter(
		"mailbox."+op+".count",
		metric.WithDescription("Number of "+op+" operations"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	errs, err := meter.Int64Counter(
		"mailbox."+op+".errors",
		metric.WithDescription("Number of "+op+" errors"),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	return latency, count, errs, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if o.listLatency, o.listCount, o.listErrors, err = operationInstruments(meter, "list"); err != nil {
		return err
	}
	if o.getLatency, o.getCount, o.getErrors, err = operationInstruments(meter, "get"); err != nil {
		return err
	}
	if o.handleLatency, o.handleCount, o.handleErrors, err = operationInstruments(meter, "handle"); err != nil {
		return err
	}
	if o.deleteLatency, o.deleteCount, o.deleteErrors, err = operationInstruments(meter, "delete"); err != nil {
		return err
	}
	if o.bulkLatency, o.bulkCount, o.bulkErrors, err = operationInstruments(meter, "bulk_delete"); err != nil {
		return err
	}

	o.bulkMessages, err = meter.Int64Counter(
		"mailbox.bulk_delete.messages",
		metric.WithDescription("Number of ids processed by bulk deletes"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err if non-nil.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordList records list operation metrics.
func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("result_count", resultCount),
	)

	o.listLatency.Record(ctx, duration.Seconds(), attrs)
	o.listCount.Add(ctx, 1, attrs)
	if err != nil {
		o.listErrors.Add(ctx, 1, attrs)
	}
}

// recordGet records get operation metrics.
func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.getLatency.Record(ctx, duration.Seconds())
	o.getCount.Add(ctx, 1)
	if err != nil {
		o.getErrors.Add(ctx, 1)
	}
}

// recordHandle records handle operation metrics.
func (o *otelInstrumentation) recordHandle(ctx context.Context, duration time.Duration, outcome HandleOutcome, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome.String()),
	)

	o.handleLatency.Record(ctx, duration.Seconds(), attrs)
	o.handleCount.Add(ctx, 1, attrs)
	if err != nil {
		o.handleErrors.Add(ctx, 1, attrs)
	}
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.deleteLatency.Record(ctx, duration.Seconds())
	o.deleteCount.Add(ctx, 1)
	if err != nil {
		o.deleteErrors.Add(ctx, 1)
	}
}

// recordBulkDelete records bulk delete metrics.
func (o *otelInstrumentation) recordBulkDelete(ctx context.Context, duration time.Duration, deleted, notFound int, err error) {
	if !o.metricsEnabled {
		return
	}

	o.bulkLatency.Record(ctx, duration.Seconds())
	o.bulkCount.Add(ctx, 1)
	o.bulkMessages.Add(ctx, int64(deleted), metric.WithAttributes(attribute.String("result", "deleted")))
	o.bulkMessages.Add(ctx, int64(notFound), metric.WithAttributes(attribute.String("result", "not_found")))
	if err != nil {
		o.bulkErrors.Add(ctx, 1)
	}
}
