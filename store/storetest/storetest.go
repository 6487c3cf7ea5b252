// Package storetest provides a conformance suite for store.Backend implementations.
//
// Each backend package runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Backend { return newTestStore(t) })
//	}
//
// The factory must return a connected backend. Tests use fresh random
// mailbox IDs, so a backend shared between subtests is fine.
package storetest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/imapstore/sequence"
	"github.com/rbaliyan/imapstore/store"
)

// Factory returns a connected backend for a test.
type Factory func(t *testing.T) store.Backend

// Run executes the conformance suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	t.Run("Mailboxes", func(t *testing.T) { testMailboxes(t, factory(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, factory(t)) })
	t.Run("SwapFlags", func(t *testing.T) { testSwapFlags(t, factory(t)) })
	t.Run("Sequences", func(t *testing.T) { testSequences(t, factory(t)) })
	t.Run("ConcurrentAllocation", func(t *testing.T) { testConcurrentAllocation(t, factory(t)) })
	t.Run("Counters", func(t *testing.T) { testCounters(t, factory(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, factory(t)) })
	t.Run("Subscriptions", func(t *testing.T) {
		b := factory(t)
		subs, ok := b.(store.SubscriptionStore)
		if !ok {
			t.Skip("backend has no subscription support")
		}
		testSubscriptions(t, subs)
	})
}

// NewMailboxID returns a random mailbox ID.
func NewMailboxID() store.MailboxID {
	return store.MailboxID(uuid.NewString())
}

// NewMailbox returns a mailbox with a random ID owned by a random user.
func NewMailbox(name string) *store.Mailbox {
	return &store.Mailbox{
		ID:          NewMailboxID(),
		Path:        store.NewPath("#private", "user-"+uuid.NewString(), name),
		UIDValidity: 42,
	}
}

func testMailboxes(t *testing.T, b store.Backend) {
	ctx := context.Background()

	mb := NewMailbox("INBOX")
	if err := b.PutMailbox(ctx, mb); err != nil {
		t.Fatalf("PutMailbox failed: %v", err)
	}

	got, err := b.GetMailbox(ctx, mb.ID)
	if err != nil {
		t.Fatalf("GetMailbox failed: %v", err)
	}
	if *got != *mb {
		t.Errorf("GetMailbox = %+v, want %+v", got, mb)
	}

	got, err = b.GetMailboxByPath(ctx, mb.Path)
	if err != nil {
		t.Fatalf("GetMailboxByPath failed: %v", err)
	}
	if got.ID != mb.ID {
		t.Errorf("GetMailboxByPath returned %s, want %s", got.ID, mb.ID)
	}

	if _, err := b.GetMailbox(ctx, NewMailboxID()); !store.IsNotFound(err) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
	missing := mb.Path
	missing.Name = "missing"
	if _, err := b.GetMailboxByPath(ctx, missing); !store.IsNotFound(err) {
		t.Errorf("expected ErrNotFound for unknown path, got %v", err)
	}

	t.Run("duplicate path", func(t *testing.T) {
		other := &store.Mailbox{ID: NewMailboxID(), Path: mb.Path, UIDValidity: 7}
		if err := b.PutMailbox(ctx, other); !store.IsDuplicateEntry(err) {
			t.Fatalf("expected ErrDuplicateEntry, got %v", err)
		}
	})

	t.Run("rename", func(t *testing.T) {
		renamed := mb.Clone()
		renamed.Path.Name = "Archive"
		if err := b.PutMailbox(ctx, renamed); err != nil {
			t.Fatalf("PutMailbox rename failed: %v", err)
		}
		if _, err := b.GetMailboxByPath(ctx, mb.Path); !store.IsNotFound(err) {
			t.Errorf("old path should be gone, got %v", err)
		}
		got, err := b.GetMailboxByPath(ctx, renamed.Path)
		if err != nil {
			t.Fatalf("GetMailboxByPath failed: %v", err)
		}
		if got.ID != mb.ID || got.UIDValidity != mb.UIDValidity {
			t.Errorf("rename changed identity: %+v", got)
		}

		// The old path is free again.
		reuse := &store.Mailbox{ID: NewMailboxID(), Path: mb.Path, UIDValidity: 9}
		if err := b.PutMailbox(ctx, reuse); err != nil {
			t.Fatalf("reusing old path failed: %v", err)
		}
	})

	t.Run("list by owner", func(t *testing.T) {
		owner := NewMailbox("INBOX")
		child := &store.Mailbox{ID: NewMailboxID(), Path: owner.Path, UIDValidity: 1}
		child.Path.Name = "INBOX.Sent"
		stranger := NewMailbox("INBOX")
		for _, m := range []*store.Mailbox{owner, child, stranger} {
			if err := b.PutMailbox(ctx, m); err != nil {
				t.Fatalf("PutMailbox failed: %v", err)
			}
		}

		list, err := b.ListMailboxes(ctx, owner.Path.Owner())
		if err != nil {
			t.Fatalf("ListMailboxes failed: %v", err)
		}
		names := mailboxNames(list)
		if !slices.Equal(names, []string{"INBOX", "INBOX.Sent"}) {
			t.Errorf("ListMailboxes = %v", names)
		}

		all, err := b.ListMailboxes(ctx, nil)
		if err != nil {
			t.Fatalf("ListMailboxes(nil) failed: %v", err)
		}
		if !containsMailbox(all, stranger.ID) || !containsMailbox(all, owner.ID) {
			t.Error("ListMailboxes(nil) should return every mailbox")
		}
	})
}

func testMessages(t *testing.T, b store.Backend) {
	ctx := context.Background()
	id := NewMailboxID()
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, uid := range []store.UID{5, 1, 3, 2, 4} {
		msg := &store.Message{
			MailboxID:    id,
			UID:          uid,
			ModSeq:       store.ModSeq(uid * 10),
			Flags:        store.NewFlags(store.FlagRecent, "$Label"),
			InternalDate: date,
			Size:         int64(len("body")),
			Content:      []byte("body"),
		}
		if err := b.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage(%d) failed: %v", uid, err)
		}
	}

	got, err := b.GetMessage(ctx, id, 3)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.UID != 3 || got.ModSeq != 30 || got.Version != 0 || string(got.Content) != "body" {
		t.Errorf("GetMessage = %+v", got)
	}
	if !got.Flags.Equal(store.NewFlags(store.FlagRecent, "$Label")) {
		t.Errorf("flags = %v", got.Flags)
	}
	if !got.InternalDate.Equal(date) {
		t.Errorf("internal date = %v", got.InternalDate)
	}
	if _, err := b.GetMessage(ctx, id, 99); !store.IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	scans := []struct {
		name  string
		rng   store.MessageRange
		limit int
		want  []store.UID
	}{
		{"all", store.AllMessages(), 0, []store.UID{1, 2, 3, 4, 5}},
		{"from", store.MessagesFrom(3), 0, []store.UID{3, 4, 5}},
		{"interval", store.MessagesBetween(2, 4), 0, []store.UID{2, 3, 4}},
		{"one", store.SingleMessage(4), 0, []store.UID{4}},
		{"missing one", store.SingleMessage(42), 0, nil},
		{"limit", store.AllMessages(), 2, []store.UID{1, 2}},
		{"interval limit", store.MessagesFrom(2), 3, []store.UID{2, 3, 4}},
	}
	for _, sc := range scans {
		t.Run("scan "+sc.name, func(t *testing.T) {
			msgs, err := b.ScanMessages(ctx, id, sc.rng, store.FetchFull, sc.limit)
			if err != nil {
				t.Fatalf("ScanMessages failed: %v", err)
			}
			if uids := messageUIDs(msgs); !slices.Equal(uids, sc.want) {
				t.Errorf("ScanMessages = %v, want %v", uids, sc.want)
			}
		})
	}

	t.Run("fetch metadata omits content", func(t *testing.T) {
		msgs, err := b.ScanMessages(ctx, id, store.SingleMessage(1), store.FetchMetadata, 0)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("ScanMessages = %v, %v", msgs, err)
		}
		if msgs[0].Content != nil {
			t.Error("metadata fetch returned content")
		}
		if msgs[0].Size != 4 {
			t.Errorf("size = %d", msgs[0].Size)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := b.DeleteMessage(ctx, id, 2); err != nil {
			t.Fatalf("DeleteMessage failed: %v", err)
		}
		if err := b.DeleteMessage(ctx, id, 2); !store.IsNotFound(err) {
			t.Errorf("second delete: expected ErrNotFound, got %v", err)
		}
		if _, err := b.GetMessage(ctx, id, 2); !store.IsNotFound(err) {
			t.Errorf("expected deleted message to be gone, got %v", err)
		}
	})

	t.Run("conditional delete", func(t *testing.T) {
		applied, err := b.DeleteMessageIf(ctx, id, 3, 1)
		if err != nil || applied {
			t.Fatalf("DeleteMessageIf with a stale version = %v, %v; want not applied", applied, err)
		}
		if _, err := b.GetMessage(ctx, id, 3); err != nil {
			t.Fatalf("row removed by a stale conditional delete: %v", err)
		}
		applied, err = b.DeleteMessageIf(ctx, id, 3, 0)
		if err != nil || !applied {
			t.Fatalf("DeleteMessageIf = %v, %v; want applied", applied, err)
		}
		if _, err := b.GetMessage(ctx, id, 3); !store.IsNotFound(err) {
			t.Errorf("expected deleted message to be gone, got %v", err)
		}
		if applied, err := b.DeleteMessageIf(ctx, id, 3, 0); err != nil || applied {
			t.Errorf("DeleteMessageIf on a missing row = %v, %v; want not applied", applied, err)
		}
	})

	// UIDs 2 and 3 are gone: a limited scan still fills its limit from
	// the rows that remain.
	t.Run("scan skips deleted rows", func(t *testing.T) {
		msgs, err := b.ScanMessages(ctx, id, store.AllMessages(), store.FetchMetadata, 2)
		if err != nil {
			t.Fatalf("ScanMessages failed: %v", err)
		}
		if uids := messageUIDs(msgs); !slices.Equal(uids, []store.UID{1, 4}) {
			t.Errorf("ScanMessages = %v, want [1 4]", uids)
		}
		msgs, err = b.ScanMessages(ctx, id, store.MessagesFrom(6), store.FetchMetadata, 2)
		if err != nil || len(msgs) != 0 {
			t.Errorf("ScanMessages past the last row = %v, %v; want empty", messageUIDs(msgs), err)
		}
	})
}

func testSwapFlags(t *testing.T, b store.Backend) {
	ctx := context.Background()
	id := NewMailboxID()
	msg := &store.Message{MailboxID: id, UID: 1, ModSeq: 1, Flags: store.NewFlags(store.FlagRecent)}
	if err := b.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}

	applied, err := b.SwapFlags(ctx, id, 1, 0, store.NewFlags(store.FlagSeen, "kw"), 2)
	if err != nil || !applied {
		t.Fatalf("SwapFlags = %v, %v; want applied", applied, err)
	}
	got, err := b.GetMessage(ctx, id, 1)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if got.Version != 1 || got.ModSeq != 2 || !got.Flags.Equal(store.NewFlags(store.FlagSeen, "kw")) {
		t.Errorf("after swap: %+v", got)
	}

	applied, err = b.SwapFlags(ctx, id, 1, 0, store.NewFlags(store.FlagDeleted), 3)
	if err != nil || applied {
		t.Fatalf("stale SwapFlags = %v, %v; want not applied", applied, err)
	}
	got, _ = b.GetMessage(ctx, id, 1)
	if got.Version != 1 || got.ModSeq != 2 || got.Flags.Has(store.FlagDeleted) {
		t.Errorf("stale swap modified the row: %+v", got)
	}

	applied, err = b.SwapFlags(ctx, id, 99, 0, store.Flags{}, 4)
	if err != nil || applied {
		t.Errorf("SwapFlags on missing row = %v, %v; want not applied", applied, err)
	}
}

func testSequences(t *testing.T, b store.Backend) {
	ctx := context.Background()
	id := NewMailboxID()

	if _, found, err := b.LoadSequence(ctx, store.SequenceUID, id); err != nil || found {
		t.Fatalf("LoadSequence on empty = %v, %v", found, err)
	}

	applied, err := b.InsertSequence(ctx, store.SequenceUID, id, 1)
	if err != nil || !applied {
		t.Fatalf("InsertSequence = %v, %v", applied, err)
	}
	applied, err = b.InsertSequence(ctx, store.SequenceUID, id, 1)
	if err != nil || applied {
		t.Fatalf("second InsertSequence = %v, %v; want not applied", applied, err)
	}

	applied, err = b.SwapSequence(ctx, store.SequenceUID, id, 1, 2)
	if err != nil || !applied {
		t.Fatalf("SwapSequence(1,2) = %v, %v", applied, err)
	}
	applied, err = b.SwapSequence(ctx, store.SequenceUID, id, 1, 2)
	if err != nil || applied {
		t.Fatalf("stale SwapSequence = %v, %v; want not applied", applied, err)
	}

	v, found, err := b.LoadSequence(ctx, store.SequenceUID, id)
	if err != nil || !found || v != 2 {
		t.Fatalf("LoadSequence = %d, %v, %v; want 2", v, found, err)
	}

	// Kinds are independent.
	if _, found, _ := b.LoadSequence(ctx, store.SequenceModSeq, id); found {
		t.Error("modseq row should not exist")
	}
}

func testConcurrentAllocation(t *testing.T, b store.Backend) {
	ctx := context.Background()
	id := NewMailboxID()
	alloc := sequence.NewUID(b)

	const workers, perWorker = 8, 25
	var (
		mu   sync.Mutex
		uids []store.UID
	)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for range perWorker {
				uid, err := alloc.Next(ctx, id)
				if err != nil {
					return err
				}
				mu.Lock()
				uids = append(uids, uid)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	slices.Sort(uids)
	for i, uid := range uids {
		if uid != store.UID(i+1) {
			t.Fatalf("allocation %d = %d: duplicates or gaps in %v", i, uid, uids)
		}
	}
	highest, err := alloc.Highest(ctx, id)
	if err != nil {
		t.Fatalf("Highest failed: %v", err)
	}
	if highest != workers*perWorker {
		t.Errorf("Highest = %d, want %d", highest, workers*perWorker)
	}
}

func testCounters(t *testing.T, b store.Backend) {
	ctx := context.Background()
	id := NewMailboxID()

	c, err := b.LoadCounters(ctx, id)
	if err != nil || c != (store.MailboxCounters{}) {
		t.Fatalf("LoadCounters on empty = %+v, %v", c, err)
	}

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			return b.AddCounters(ctx, id, store.MailboxCounters{Count: 1, Unseen: 1})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("AddCounters failed: %v", err)
	}
	if err := b.AddCounters(ctx, id, store.MailboxCounters{Count: -3, Unseen: -5}); err != nil {
		t.Fatalf("AddCounters failed: %v", err)
	}

	c, err = b.LoadCounters(ctx, id)
	if err != nil {
		t.Fatalf("LoadCounters failed: %v", err)
	}
	if c != (store.MailboxCounters{Count: 7, Unseen: 5}) {
		t.Errorf("counters = %+v, want {7 5}", c)
	}
}

func testDeleteCascades(t *testing.T, b store.Backend) {
	ctx := context.Background()
	mb := NewMailbox("Trash")
	if err := b.PutMailbox(ctx, mb); err != nil {
		t.Fatalf("PutMailbox failed: %v", err)
	}
	if err := b.InsertMessage(ctx, &store.Message{MailboxID: mb.ID, UID: 1, ModSeq: 1}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if _, err := b.InsertSequence(ctx, store.SequenceUID, mb.ID, 1); err != nil {
		t.Fatalf("InsertSequence failed: %v", err)
	}
	if err := b.AddCounters(ctx, mb.ID, store.MailboxCounters{Count: 1, Unseen: 1}); err != nil {
		t.Fatalf("AddCounters failed: %v", err)
	}

	if err := b.DeleteMailbox(ctx, mb.ID); err != nil {
		t.Fatalf("DeleteMailbox failed: %v", err)
	}

	if _, err := b.GetMailbox(ctx, mb.ID); !store.IsNotFound(err) {
		t.Errorf("mailbox still present: %v", err)
	}
	if _, err := b.GetMailboxByPath(ctx, mb.Path); !store.IsNotFound(err) {
		t.Errorf("path still present: %v", err)
	}
	if msgs, err := b.ScanMessages(ctx, mb.ID, store.AllMessages(), store.FetchMetadata, 0); err != nil || len(msgs) != 0 {
		t.Errorf("messages still present: %d, %v", len(msgs), err)
	}
	if _, found, err := b.LoadSequence(ctx, store.SequenceUID, mb.ID); err != nil || found {
		t.Errorf("sequence still present: %v, %v", found, err)
	}
	if c, err := b.LoadCounters(ctx, mb.ID); err != nil || !c.IsZero() {
		t.Errorf("counters still present: %+v, %v", c, err)
	}

	if err := b.DeleteMailbox(ctx, mb.ID); err != nil {
		t.Errorf("deleting a missing mailbox should not fail: %v", err)
	}
}

func testSubscriptions(t *testing.T, b store.SubscriptionStore) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	for _, name := range []string{"Sent", "INBOX", "Sent"} {
		if err := b.PutSubscription(ctx, store.Subscription{User: user, Mailbox: name}); err != nil {
			t.Fatalf("PutSubscription failed: %v", err)
		}
	}
	subs, err := b.ListSubscriptions(ctx, user)
	if err != nil {
		t.Fatalf("ListSubscriptions failed: %v", err)
	}
	want := []store.Subscription{{User: user, Mailbox: "INBOX"}, {User: user, Mailbox: "Sent"}}
	if !slices.Equal(subs, want) {
		t.Errorf("ListSubscriptions = %v, want %v", subs, want)
	}

	if err := b.DeleteSubscription(ctx, store.Subscription{User: user, Mailbox: "INBOX"}); err != nil {
		t.Fatalf("DeleteSubscription failed: %v", err)
	}
	subs, err = b.ListSubscriptions(ctx, user)
	if err != nil {
		t.Fatalf("ListSubscriptions failed: %v", err)
	}
	if len(subs) != 1 || subs[0].Mailbox != "Sent" {
		t.Errorf("after delete: %v", subs)
	}

	subs, err = b.ListSubscriptions(ctx, "nobody-"+uuid.NewString())
	if err != nil || len(subs) != 0 {
		t.Errorf("unknown user: %v, %v", subs, err)
	}
}

func mailboxNames(list []*store.Mailbox) []string {
	names := make([]string, 0, len(list))
	for _, mb := range list {
		names = append(names, mb.Path.Name)
	}
	slices.Sort(names)
	return names
}

func containsMailbox(list []*store.Mailbox, id store.MailboxID) bool {
	return slices.ContainsFunc(list, func(mb *store.Mailbox) bool { return mb.ID == id })
}

func messageUIDs(msgs []*store.Message) []store.UID {
	var uids []store.UID
	for _, m := range msgs {
		uids = append(uids, m.UID)
	}
	return uids
}
