package imapstore

import (
	"context"
	"errors"
	"slices"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rbaliyan/imapstore/cache"
	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/memory"
)

func newTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	svc, err := NewService(append([]Option{WithBackend(memory.New())}, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestNewServiceRequiresBackend(t *testing.T) {
	if _, err := NewService(); !errors.Is(err, ErrBackendRequired) {
		t.Fatalf("expected ErrBackendRequired, got %v", err)
	}
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(WithBackend(memory.New()))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	t.Run("NotConnected", func(t *testing.T) {
		if svc.IsConnected() {
			t.Fatal("service should start disconnected")
		}
		if svc.Events() != nil {
			t.Error("events should be nil before Connect")
		}
		_, err := svc.Mailboxes().FindByPath(ctx, store.NewPath("#private", "u", "INBOX"))
		if !errors.Is(err, ErrNotConnected) || !store.IsNotConnected(err) {
			t.Errorf("FindByPath: expected ErrNotConnected, got %v", err)
		}
		for _, err := range svc.Messages().FindInRange(ctx, &store.Mailbox{ID: "x"}, store.AllMessages(), store.FetchMetadata, 0) {
			if !errors.Is(err, ErrNotConnected) {
				t.Errorf("FindInRange: expected ErrNotConnected, got %v", err)
			}
		}
	})

	t.Run("Connect", func(t *testing.T) {
		if err := svc.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		if !svc.IsConnected() || svc.Events() == nil {
			t.Fatal("service should be connected with events")
		}
		if err := svc.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("second Connect: expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		if err := svc.Close(ctx); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := svc.Close(ctx); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
		if svc.IsConnected() {
			t.Error("service should be disconnected")
		}
	})
}

func TestServiceReleasesClients(t *testing.T) {
	ctx := context.Background()
	released := 0
	svc, err := NewService(
		WithBackend(memory.New()),
		withRelease(func(context.Context) error { released++; return nil }),
	)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if released != 1 {
		t.Errorf("release called %d times, want 1", released)
	}
}

// A mailbox with UIDValidity 13 goes through append, flag, expunge and
// delete, with counters and sequences checked along the way.
func TestServiceEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	mailboxes, msgs := svc.Mailboxes(), svc.Messages()

	inbox := &store.Mailbox{Path: store.NewPath("#private", "alice", "INBOX"), UIDValidity: 13}
	if err := mailboxes.Save(ctx, inbox); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		md, err := msgs.Add(ctx, inbox, &store.Message{Content: []byte("hello"), Flags: store.NewFlags(store.FlagRecent)})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if md.UID != store.UID(i) {
			t.Fatalf("Add #%d got UID %d", i, md.UID)
		}
	}
	if n, err := msgs.CountUnseen(ctx, inbox); err != nil || n != 3 {
		t.Fatalf("CountUnseen = %d, %v; want 3", n, err)
	}

	updated, err := msgs.UpdateFlags(ctx, inbox, store.MessagesBetween(2, 3), store.AddFlags(store.NewFlags(store.FlagSeen|store.FlagDeleted)))
	if err != nil {
		t.Fatalf("UpdateFlags failed: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("UpdateFlags updated %d messages, want 2", len(updated))
	}
	if n, _ := msgs.CountUnseen(ctx, inbox); n != 1 {
		t.Errorf("CountUnseen after SEEN = %d, want 1", n)
	}
	if uid, ok, err := msgs.FindFirstUnseenUID(ctx, inbox); err != nil || !ok || uid != 1 {
		t.Errorf("FindFirstUnseenUID = %d, %v, %v; want 1", uid, ok, err)
	}

	removed, err := msgs.ExpungeDeleted(ctx, inbox, store.AllMessages())
	if err != nil {
		t.Fatalf("ExpungeDeleted failed: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expunged %d messages, want 2", len(removed))
	}
	if n, _ := msgs.CountMessages(ctx, inbox); n != 1 {
		t.Errorf("CountMessages after expunge = %d, want 1", n)
	}

	// UIDs are never reused.
	md, err := msgs.Add(ctx, inbox, &store.Message{Content: []byte("again")})
	if err != nil || md.UID != 4 {
		t.Fatalf("Add after expunge = %d, %v; want UID 4", md.UID, err)
	}
	if last, _ := msgs.LastUID(ctx, inbox); last != 4 {
		t.Errorf("LastUID = %d, want 4", last)
	}
	// Four appends and two flag writes.
	if hi, _ := msgs.HighestModSeq(ctx, inbox); hi != 6 {
		t.Errorf("HighestModSeq = %d, want 6", hi)
	}

	got, err := mailboxes.FindByPath(ctx, inbox.Path)
	if err != nil || got.UIDValidity != 13 {
		t.Fatalf("FindByPath = %+v, %v", got, err)
	}

	if err := mailboxes.Delete(ctx, inbox); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := mailboxes.FindByPath(ctx, inbox.Path); !store.IsNotFound(err) {
		t.Errorf("deleted mailbox should not be found, got %v", err)
	}
	if n, _ := msgs.CountMessages(ctx, inbox); n != 0 {
		t.Errorf("CountMessages after delete = %d, want 0", n)
	}
}

func TestServiceCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Enabled", func(t *testing.T) {
		svc := newTestService(t)
		if svc.Cache() == nil || svc.Metadata() == nil {
			t.Fatal("cache should be enabled by default")
		}
		mb := &store.Mailbox{Path: store.NewPath("#private", "bob", "INBOX")}
		if err := svc.Mailboxes().Save(ctx, mb); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if _, err := svc.Mailboxes().FindByPath(ctx, mb.Path); err != nil {
			t.Fatalf("FindByPath failed: %v", err)
		}
		if svc.Cache().Paths().Len() != 1 {
			t.Errorf("expected one cached path, got %d", svc.Cache().Paths().Len())
		}

		key := cache.Key{MailboxID: mb.ID, Name: "acl"}
		acl, err := cache.Load(ctx, svc.Metadata(), key, func(context.Context) (string, error) { return "lrswi", nil })
		if err != nil || acl != "lrswi" {
			t.Fatalf("metadata Load = %q, %v", acl, err)
		}
		if err := svc.Mailboxes().Delete(ctx, mb); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if svc.Metadata().Len() != 0 || svc.Cache().Paths().Len() != 0 {
			t.Error("delete should invalidate path and metadata entries")
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		svc := newTestService(t, WithCache(false))
		if svc.Cache() != nil || svc.Metadata() != nil {
			t.Error("cache should be nil when disabled")
		}
	})
}

func TestServiceSubscriptions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	subs, err := svc.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions failed: %v", err)
	}
	for _, name := range []string{"INBOX", "Archive"} {
		if err := subs.Save(ctx, store.Subscription{User: "carol", Mailbox: name}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	list, err := subs.FindForUser(ctx, "carol")
	if err != nil {
		t.Fatalf("FindForUser failed: %v", err)
	}
	var names []string
	for _, s := range list {
		names = append(names, s.Mailbox)
	}
	if !slices.Equal(names, []string{"Archive", "INBOX"}) {
		t.Errorf("FindForUser = %v", names)
	}
}

func TestServiceTracing(t *testing.T) {
	ctx := context.Background()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	svc := newTestService(t, WithTracing(true), WithTracerProvider(tp))

	mb := &store.Mailbox{Path: store.NewPath("#private", "dave", "INBOX")}
	if err := svc.Mailboxes().Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := svc.Messages().Add(ctx, mb, &store.Message{Content: []byte("x")}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	names := make(map[string]bool)
	for _, span := range rec.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{"imapstore.mailbox.save", "imapstore.message.add", "imapstore.store.insert_message", "imapstore.store.insert_sequence"} {
		if !names[want] {
			t.Errorf("missing span %q", want)
		}
	}
}
