package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultNamePrefix = "imapstore"

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	noTracing      bool
	noMetrics      bool

	// prefix is prepended to span and instrument names.
	prefix string
	// attrs are set on every span. Metric data points only carry the
	// operation so their cardinality stays fixed.
	attrs []attribute.KeyValue
	// traced reports whether an operation gets a span. nil traces all.
	traced func(op string) bool
}

// Option configures the instrumented backend.
type Option func(*options)

// WithTracerProvider sets the provider spans are started from.
// Default is otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the provider instruments are created from.
// Default is otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithoutTracing turns span creation off. Metrics are still recorded.
func WithoutTracing() Option {
	return func(o *options) {
		o.noTracing = true
	}
}

// WithoutMetrics turns instrument recording off. Spans are still created.
func WithoutMetrics() Option {
	return func(o *options) {
		o.noMetrics = true
	}
}

// WithNamePrefix replaces the "imapstore" prefix of span names
// (<prefix>.store.<op>) and instrument names (<prefix>.store.duration,
// <prefix>.cas.conflicts, ...). Useful when two stores share a meter.
func WithNamePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithAttributes adds attributes to every span, e.g. service.name.
func WithAttributes(kv ...attribute.KeyValue) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, kv...)
	}
}

// WithSpanFilter limits spans to the operations for which keep returns
// true. Operation names are snake case ("get_message", "swap_flags").
// Filtered operations are still counted in metrics.
func WithSpanFilter(keep func(op string) bool) Option {
	return func(o *options) {
		o.traced = keep
	}
}

func (o *options) traces(op string) bool {
	if o.noTracing {
		return false
	}
	return o.traced == nil || o.traced(op)
}
