package counters

import (
	"context"
	"testing"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/memory"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	s := memory.New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return New(s)
}

func TestUnseenDelta(t *testing.T) {
	seen := store.NewFlags(store.FlagSeen)
	unseen := store.NewFlags(store.FlagRecent)

	tests := []struct {
		name     string
		old, new store.Flags
		want     int64
	}{
		{"seen set", unseen, seen, -1},
		{"seen cleared", seen, unseen, 1},
		{"still seen", seen, seen.With(store.FlagFlagged), 0},
		{"still unseen", unseen, unseen.Without(store.FlagRecent), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UnseenDelta(tt.old, tt.new); got != tt.want {
				t.Errorf("UnseenDelta = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTracker(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)
	const id = store.MailboxID("mb")

	before, err := tr.Counters(ctx, id)
	if err != nil {
		t.Fatalf("Counters failed: %v", err)
	}

	if err := tr.Added(ctx, id, store.NewFlags(store.FlagRecent)); err != nil {
		t.Fatalf("Added failed: %v", err)
	}
	if err := tr.Added(ctx, id, store.NewFlags(store.FlagSeen)); err != nil {
		t.Fatalf("Added failed: %v", err)
	}
	if n, _ := tr.Count(ctx, id); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
	if n, _ := tr.Unseen(ctx, id); n != 1 {
		t.Errorf("Unseen = %d, want 1", n)
	}

	if err := tr.FlagsChanged(ctx, id, store.NewFlags(store.FlagRecent), store.NewFlags(store.FlagSeen)); err != nil {
		t.Fatalf("FlagsChanged failed: %v", err)
	}
	if n, _ := tr.Unseen(ctx, id); n != 0 {
		t.Errorf("Unseen after marking seen = %d, want 0", n)
	}

	if err := tr.Removed(ctx, id, store.NewFlags(store.FlagSeen)); err != nil {
		t.Fatalf("Removed failed: %v", err)
	}
	if err := tr.Removed(ctx, id, store.NewFlags(store.FlagSeen)); err != nil {
		t.Fatalf("Removed failed: %v", err)
	}

	after, err := tr.Counters(ctx, id)
	if err != nil {
		t.Fatalf("Counters failed: %v", err)
	}
	if after != before {
		t.Errorf("counters = %+v, want %+v", after, before)
	}
}
