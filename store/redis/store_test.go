package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(client, WithKeyPrefix("test:"))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return s, mr
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, _ := newTestStore(t)
		return s
	})
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("second Connect: expected ErrAlreadyConnected, got %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.GetMailbox(ctx, "x"); !store.IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := New(nil).Connect(ctx); err == nil {
		t.Error("Connect without a client should fail")
	}
}

func TestKeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	mb := storetest.NewMailbox("INBOX")
	if err := s.PutMailbox(ctx, mb); err != nil {
		t.Fatalf("PutMailbox failed: %v", err)
	}
	if err := s.InsertMessage(ctx, &store.Message{MailboxID: mb.ID, UID: 7, ModSeq: 1}); err != nil {
		t.Fatalf("InsertMessage failed: %v", err)
	}
	if err := s.AddCounters(ctx, mb.ID, store.MailboxCounters{Count: 1, Unseen: 1}); err != nil {
		t.Fatalf("AddCounters failed: %v", err)
	}

	for _, key := range []string{
		"test:mailbox:" + string(mb.ID),
		"test:paths",
		"test:mailboxes",
		"test:uids:" + string(mb.ID),
		"test:message:" + string(mb.ID) + ":7",
		"test:counters:" + string(mb.ID),
	} {
		if !mr.Exists(key) {
			t.Errorf("key %q missing", key)
		}
	}
	if got := mr.HGet("test:counters:"+string(mb.ID), "unseen"); got != "1" {
		t.Errorf("unseen counter = %q", got)
	}

	if err := s.DeleteMailbox(ctx, mb.ID); err != nil {
		t.Fatalf("DeleteMailbox failed: %v", err)
	}
	for _, key := range mr.Keys() {
		if key != "test:paths" && key != "test:mailboxes" {
			t.Errorf("key %q survived DeleteMailbox", key)
		}
	}
}

func TestStoreFailure(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	mr.SetError("boom")
	_, _, err := s.LoadSequence(ctx, store.SequenceUID, "mb")
	if !store.IsStoreFailure(err) {
		t.Errorf("expected ErrStoreFailure, got %v", err)
	}
	mr.SetError("")
	if _, _, err := s.LoadSequence(ctx, store.SequenceUID, "mb"); err != nil {
		t.Errorf("LoadSequence after recovery: %v", err)
	}
}
