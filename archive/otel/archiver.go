// Package otel provides OpenTelemetry instrumentation for archivers.
package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/workspace-mailbox/archive"
	"github.com/rbaliyan/workspace-mailbox/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/workspace-mailbox/archive/otel"
)

// Archiver wraps an archive.Archiver with tracing and metrics.
type Archiver struct {
	backend archive.Archiver
	opts    *options

	tracer trace.Tracer

	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
}

var _ archive.Archiver = (*Archiver)(nil)

// New wraps backend.
func New(backend archive.Archiver, opts ...Option) (*Archiver, error) {
	o := &options{
		tracingEnabled: true,
		metricsEnabled: true,
		serviceName:    "mailbox",
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	a := &Archiver{
		backend: backend,
		opts:    o,
	}

	if o.tracingEnabled {
		a.tracer = o.tracerProvider.Tracer(instrumentationName)
	}

	if o.metricsEnabled {
		if err := a.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	return a, nil
}

func (a *Archiver) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	a.latency, err = meter.Float64Histogram(
		"archive.duration",
		metric.WithDescription("Duration of archive writes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	a.count, err = meter.Int64Counter(
		"archive.count",
		metric.WithDescription("Number of archive writes"),
	)
	if err != nil {
		return err
	}

	a.errors, err = meter.Int64Counter(
		"archive.errors",
		metric.WithDescription("Number of failed archive writes"),
	)
	return err
}

// Archive archives msg with tracing and metrics.
func (a *Archiver) Archive(ctx context.Context, msg *store.Message) (string, error) {
	attrs := append(a.opts.attributes(),
		attribute.String("mailbox.workspace_id", msg.WorkspaceID),
		attribute.String("mailbox.type", string(msg.Type)),
	)

	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "archive.write",
			trace.WithAttributes(append(attrs, attribute.Int64("mailbox.message_id", msg.ID))...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	uri, err := a.backend.Archive(ctx, msg)

	if a.opts.metricsEnabled {
		metricAttrs := metric.WithAttributes(attrs...)
		a.latency.Record(ctx, time.Since(start).Seconds(), metricAttrs)
		a.count.Add(ctx, 1, metricAttrs)
		if err != nil {
			a.errors.Add(ctx, 1, metricAttrs)
		}
	}

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("archive.uri", uri))
			span.SetStatus(codes.Ok, "")
		}
	}

	return uri, err
}
