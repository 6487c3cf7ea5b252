// Package otel provides OpenTelemetry instrumentation for store backends.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/imapstore/store"
)

const (
	instrumentationName = "github.com/rbaliyan/imapstore/store/otel"
)

// Backend wraps a store.Backend with OpenTelemetry instrumentation.
// Every call gets a client span and is recorded in the duration, count and
// error instruments under an "operation" attribute. Conditional writes
// that report not-applied are also counted as CAS conflicts.
type Backend struct {
	next store.Backend
	opts *options

	// Tracing
	tracer trace.Tracer

	// Metrics
	latency   metric.Float64Histogram
	count     metric.Int64Counter
	errors    metric.Int64Counter
	conflicts metric.Int64Counter
}

// Ensure Backend implements store.Backend.
var _ store.Backend = (*Backend)(nil)

// New creates a new OTel-instrumented backend wrapping next.
func New(next store.Backend, opts ...Option) (*Backend, error) {
	o := &options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		prefix:         defaultNamePrefix,
	}
	for _, opt := range opts {
		opt(o)
	}

	b := &Backend{
		next: next,
		opts: o,
	}

	if !o.noTracing {
		b.tracer = o.tracerProvider.Tracer(instrumentationName)
	}

	if !o.noMetrics {
		if err := b.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}

	return b, nil
}

// Unwrap returns the wrapped backend.
func (b *Backend) Unwrap() store.Backend {
	return b.next
}

func (b *Backend) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)
	p := b.opts.prefix

	var err error

	b.latency, err = meter.Float64Histogram(
		p+".store.duration",
		metric.WithDescription("Duration of backend operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	b.count, err = meter.Int64Counter(
		p+".store.count",
		metric.WithDescription("Number of backend operations"),
	)
	if err != nil {
		return err
	}

	b.errors, err = meter.Int64Counter(
		p+".store.errors",
		metric.WithDescription("Number of backend errors"),
	)
	if err != nil {
		return err
	}

	b.conflicts, err = meter.Int64Counter(
		p+".cas.conflicts",
		metric.WithDescription("Number of conditional writes that were not applied"),
	)
	if err != nil {
		return err
	}

	return nil
}

// observe runs fn inside a span and records its metrics. applied is nil
// for unconditional operations.
func (b *Backend) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) (applied *bool, err error)) error {
	var span trace.Span
	if b.tracer != nil && b.opts.traces(op) {
		attrs = append(attrs, attribute.String("operation", op))
		attrs = append(attrs, b.opts.attrs...)
		ctx, span = b.tracer.Start(ctx, b.opts.prefix+".store."+op,
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()
	}

	start := time.Now()
	applied, err := fn(ctx)
	duration := time.Since(start).Seconds()

	if !b.opts.noMetrics {
		metricAttrs := metric.WithAttributes(attribute.String("operation", op))
		b.latency.Record(ctx, duration, metricAttrs)
		b.count.Add(ctx, 1, metricAttrs)
		if err != nil {
			b.errors.Add(ctx, 1, metricAttrs)
		} else if applied != nil && !*applied {
			b.conflicts.Add(ctx, 1, metricAttrs)
		}
	}

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			if applied != nil {
				span.SetAttributes(attribute.Bool("cas.applied", *applied))
			}
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

func mailboxAttr(id store.MailboxID) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("mailbox.id", string(id))}
}

func messageAttrs(id store.MailboxID, uid store.UID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mailbox.id", string(id)),
		attribute.Int64("message.uid", int64(uid)),
	}
}

func sequenceAttrs(kind store.SequenceKind, id store.MailboxID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("mailbox.id", string(id)),
		attribute.String("sequence.kind", kind.String()),
	}
}

func (b *Backend) Connect(ctx context.Context) error {
	return b.next.Connect(ctx)
}

func (b *Backend) Close(ctx context.Context) error {
	return b.next.Close(ctx)
}

func (b *Backend) GetMailbox(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	var mb *store.Mailbox
	err := b.observe(ctx, "get_mailbox", mailboxAttr(id), func(ctx context.Context) (*bool, error) {
		var err error
		mb, err = b.next.GetMailbox(ctx, id)
		return nil, err
	})
	return mb, err
}

func (b *Backend) GetMailboxByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	var mb *store.Mailbox
	attrs := []attribute.KeyValue{attribute.String("mailbox.path", path.String())}
	err := b.observe(ctx, "get_mailbox_by_path", attrs, func(ctx context.Context) (*bool, error) {
		var err error
		mb, err = b.next.GetMailboxByPath(ctx, path)
		return nil, err
	})
	return mb, err
}

func (b *Backend) ListMailboxes(ctx context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	var list []*store.Mailbox
	err := b.observe(ctx, "list_mailboxes", nil, func(ctx context.Context) (*bool, error) {
		var err error
		list, err = b.next.ListMailboxes(ctx, filter)
		return nil, err
	})
	return list, err
}

func (b *Backend) PutMailbox(ctx context.Context, mailbox *store.Mailbox) error {
	return b.observe(ctx, "put_mailbox", mailboxAttr(mailbox.ID), func(ctx context.Context) (*bool, error) {
		return nil, b.next.PutMailbox(ctx, mailbox)
	})
}

func (b *Backend) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	return b.observe(ctx, "delete_mailbox", mailboxAttr(id), func(ctx context.Context) (*bool, error) {
		return nil, b.next.DeleteMailbox(ctx, id)
	})
}

func (b *Backend) InsertMessage(ctx context.Context, msg *store.Message) error {
	return b.observe(ctx, "insert_message", messageAttrs(msg.MailboxID, msg.UID), func(ctx context.Context) (*bool, error) {
		return nil, b.next.InsertMessage(ctx, msg)
	})
}

func (b *Backend) GetMessage(ctx context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	var msg *store.Message
	err := b.observe(ctx, "get_message", messageAttrs(id, uid), func(ctx context.Context) (*bool, error) {
		var err error
		msg, err = b.next.GetMessage(ctx, id, uid)
		return nil, err
	})
	return msg, err
}

func (b *Backend) SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	var applied bool
	err := b.observe(ctx, "swap_flags", messageAttrs(id, uid), func(ctx context.Context) (*bool, error) {
		var err error
		applied, err = b.next.SwapFlags(ctx, id, uid, expectedVersion, flags, modSeq)
		return &applied, err
	})
	return applied, err
}

func (b *Backend) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	return b.observe(ctx, "delete_message", messageAttrs(id, uid), func(ctx context.Context) (*bool, error) {
		return nil, b.next.DeleteMessage(ctx, id, uid)
	})
}

func (b *Backend) DeleteMessageIf(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64) (bool, error) {
	var applied bool
	err := b.observe(ctx, "delete_message_if", messageAttrs(id, uid), func(ctx context.Context) (*bool, error) {
		var err error
		applied, err = b.next.DeleteMessageIf(ctx, id, uid, expectedVersion)
		return &applied, err
	})
	return applied, err
}

func (b *Backend) ScanMessages(ctx context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	var msgs []*store.Message
	attrs := append(mailboxAttr(id), attribute.String("range", rng.String()), attribute.Int("limit", limit))
	err := b.observe(ctx, "scan_messages", attrs, func(ctx context.Context) (*bool, error) {
		var err error
		msgs, err = b.next.ScanMessages(ctx, id, rng, fetch, limit)
		return nil, err
	})
	return msgs, err
}

func (b *Backend) LoadSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	var (
		value uint64
		found bool
	)
	err := b.observe(ctx, "load_sequence", sequenceAttrs(kind, id), func(ctx context.Context) (*bool, error) {
		var err error
		value, found, err = b.next.LoadSequence(ctx, kind, id)
		return nil, err
	})
	return value, found, err
}

func (b *Backend) InsertSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	var applied bool
	err := b.observe(ctx, "insert_sequence", sequenceAttrs(kind, id), func(ctx context.Context) (*bool, error) {
		var err error
		applied, err = b.next.InsertSequence(ctx, kind, id, value)
		return &applied, err
	})
	return applied, err
}

func (b *Backend) SwapSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	var applied bool
	err := b.observe(ctx, "swap_sequence", sequenceAttrs(kind, id), func(ctx context.Context) (*bool, error) {
		var err error
		applied, err = b.next.SwapSequence(ctx, kind, id, oldValue, newValue)
		return &applied, err
	})
	return applied, err
}

func (b *Backend) AddCounters(ctx context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	return b.observe(ctx, "add_counters", mailboxAttr(id), func(ctx context.Context) (*bool, error) {
		return nil, b.next.AddCounters(ctx, id, delta)
	})
}

func (b *Backend) LoadCounters(ctx context.Context, id store.MailboxID) (store.MailboxCounters, error) {
	var c store.MailboxCounters
	err := b.observe(ctx, "load_counters", mailboxAttr(id), func(ctx context.Context) (*bool, error) {
		var err error
		c, err = b.next.LoadCounters(ctx, id)
		return nil, err
	})
	return c, err
}
