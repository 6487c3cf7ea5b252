package imapstore

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
	instrumentationName = "github.com/rbaliyan/imapstore"
)

// otelInstrumentation holds OpenTelemetry instrumentation for mapper operations.
// Backend calls are instrumented separately by store/otel.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool
	latency        metric.Float64Histogram
	count          metric.Int64Counter
	errors         metric.Int64Counter
	flagChanges    metric.Int64Counter
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

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.latency, err = meter.Float64Histogram(
		"imapstore.mapper.duration",
		metric.WithDescription("Duration of mapper operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.count, err = meter.Int64Counter(
		"imapstore.mapper.count",
		metric.WithDescription("Number of mapper operations"),
	)
	if err != nil {
		return err
	}

	o.errors, err = meter.Int64Counter(
		"imapstore.mapper.errors",
		metric.WithDescription("Number of mapper errors"),
	)
	if err != nil {
		return err
	}

	o.flagChanges, err = meter.Int64Counter(
		"imapstore.flags.updated",
		metric.WithDescription("Number of messages whose flags were written"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a span for op when tracing is enabled.
func (o *otelInstrumentation) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, nil
	}
	return o.tracer.Start(ctx, "imapstore."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// end records the outcome of op started at start.
func (o *otelInstrumentation) end(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	if o.metricsEnabled {
		attrs := metric.WithAttributes(attribute.String("operation", op))
		o.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		o.count.Add(ctx, 1, attrs)
		if err != nil {
			o.errors.Add(ctx, 1, attrs)
		}
	}
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// recordFlagChanges counts the messages written by a flag update.
func (o *otelInstrumentation) recordFlagChanges(ctx context.Context, n int) {
	if o.metricsEnabled && n > 0 {
		o.flagChanges.Add(ctx, int64(n))
	}
}
