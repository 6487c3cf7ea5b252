package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/memory"
	"github.com/rbaliyan/imapstore/store/storetest"
)

func newInstrumented(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	mem := memory.New()
	if err := mem.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	b, err := New(mem, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return newInstrumented(t,
			WithTracerProvider(tracenoop.NewTracerProvider()),
			WithMeterProvider(metricnoop.NewMeterProvider()),
		)
	})
}

func TestSpans(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	b := newInstrumented(t, WithTracerProvider(tp), WithoutMetrics())

	mb := storetest.NewMailbox("INBOX")
	if err := b.PutMailbox(ctx, mb); err != nil {
		t.Fatalf("PutMailbox: %v", err)
	}
	if _, err := b.GetMessage(ctx, mb.ID, 7); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetMessage: got %v, want ErrNotFound", err)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if got := spans[0].Name(); got != "imapstore.store.put_mailbox" {
		t.Errorf("span 0 = %q", got)
	}
	if got := spans[1].Name(); got != "imapstore.store.get_message" {
		t.Errorf("span 1 = %q", got)
	}
	if len(spans[1].Events()) == 0 {
		t.Error("expected the error to be recorded on the span")
	}
	var uid attribute.Value
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "message.uid" {
			uid = kv.Value
		}
	}
	if uid.AsInt64() != 7 {
		t.Errorf("message.uid = %v, want 7", uid.Emit())
	}
}

func TestConflictMetric(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	b := newInstrumented(t, WithMeterProvider(mp), WithoutTracing())

	id := storetest.NewMailboxID()
	if ok, err := b.InsertSequence(ctx, store.SequenceUID, id, 1); err != nil || !ok {
		t.Fatalf("InsertSequence: %v %v", ok, err)
	}
	if ok, err := b.InsertSequence(ctx, store.SequenceUID, id, 1); err != nil || ok {
		t.Fatalf("second InsertSequence: %v %v", ok, err)
	}
	if ok, err := b.SwapSequence(ctx, store.SequenceUID, id, 5, 6); err != nil || ok {
		t.Fatalf("stale SwapSequence: %v %v", ok, err)
	}
	if ok, err := b.SwapSequence(ctx, store.SequenceUID, id, 1, 2); err != nil || !ok {
		t.Fatalf("SwapSequence: %v %v", ok, err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := sumOf(rm, "imapstore.cas.conflicts"); got != 2 {
		t.Errorf("conflicts = %d, want 2", got)
	}
	if got := sumOf(rm, "imapstore.store.count"); got != 4 {
		t.Errorf("count = %d, want 4", got)
	}
	if got := sumOf(rm, "imapstore.store.errors"); got != 0 {
		t.Errorf("errors = %d, want 0", got)
	}
}

func TestSpanFilterAndAttributes(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	b := newInstrumented(t,
		WithTracerProvider(tp),
		WithMeterProvider(mp),
		WithNamePrefix("mailstore"),
		WithAttributes(attribute.String("service.name", "imap-test")),
		WithSpanFilter(func(op string) bool { return op != "get_mailbox" }),
	)

	mb := storetest.NewMailbox("INBOX")
	if err := b.PutMailbox(ctx, mb); err != nil {
		t.Fatalf("PutMailbox: %v", err)
	}
	if _, err := b.GetMailbox(ctx, mb.ID); err != nil {
		t.Fatalf("GetMailbox: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "mailstore.store.put_mailbox" {
		t.Errorf("span name = %q", got)
	}
	var service string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "imap-test" {
		t.Errorf("service.name = %q, want imap-test", service)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := sumOf(rm, "mailstore.store.count"); got != 2 {
		t.Errorf("count = %d, want 2 (filtered ops are still counted)", got)
	}
	if got := sumOf(rm, "imapstore.store.count"); got != 0 {
		t.Errorf("default-prefixed count = %d, want 0", got)
	}
}

func TestDeleteMessageIfConflict(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	b := newInstrumented(t, WithMeterProvider(mp), WithoutTracing())

	id := storetest.NewMailboxID()
	if err := b.InsertMessage(ctx, &store.Message{MailboxID: id, UID: 1, ModSeq: 1}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if ok, err := b.DeleteMessageIf(ctx, id, 1, 42); err != nil || ok {
		t.Fatalf("stale DeleteMessageIf: %v %v", ok, err)
	}
	if ok, err := b.DeleteMessageIf(ctx, id, 1, 0); err != nil || !ok {
		t.Fatalf("DeleteMessageIf: %v %v", ok, err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := sumOf(rm, "imapstore.cas.conflicts"); got != 1 {
		t.Errorf("conflicts = %d, want 1", got)
	}
}

func TestErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	faulty := storetest.NewFaulty(memory.New())
	if err := faulty.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	faulty.FailWrites.Store(true)
	b, err := New(faulty,
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.PutMailbox(ctx, storetest.NewMailbox("INBOX")); !errors.Is(err, storetest.ErrInjected) {
		t.Fatalf("PutMailbox: got %v, want ErrInjected", err)
	}
	if b.Unwrap() != store.Backend(faulty) {
		t.Error("Unwrap returned a different backend")
	}
}

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
