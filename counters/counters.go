// Package counters maintains the per-mailbox message and unseen counts.
//
// Counts are adjusted incrementally with commutative deltas whenever a
// message is added, removed, or gains or loses SEEN. The increments are
// not tied to the row write they accompany.
package counters

import (
	"context"
	"log/slog"

	"github.com/rbaliyan/imapstore/store"
)

// Tracker applies counter deltas for message lifecycle events.
type Tracker struct {
	store  store.CounterStore
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a tracker backed by s.
func New(s store.CounterStore, opts ...Option) *Tracker {
	t := &Tracker{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Added records a new message with the given flags.
func (t *Tracker) Added(ctx context.Context, id store.MailboxID, flags store.Flags) error {
	return t.apply(ctx, id, store.CountersFor(flags))
}

// Removed records the removal of a message that had the given flags.
func (t *Tracker) Removed(ctx context.Context, id store.MailboxID, flags store.Flags) error {
	return t.apply(ctx, id, store.CountersFor(flags).Negate())
}

// FlagsChanged records a flag transition. Only a change of SEEN matters.
func (t *Tracker) FlagsChanged(ctx context.Context, id store.MailboxID, oldFlags, newFlags store.Flags) error {
	return t.apply(ctx, id, store.MailboxCounters{Unseen: UnseenDelta(oldFlags, newFlags)})
}

// UnseenDelta returns +1 when SEEN was cleared, -1 when it was set, 0 otherwise.
func UnseenDelta(oldFlags, newFlags store.Flags) int64 {
	switch {
	case oldFlags.Seen() && !newFlags.Seen():
		return 1
	case !oldFlags.Seen() && newFlags.Seen():
		return -1
	default:
		return 0
	}
}

func (t *Tracker) apply(ctx context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if delta.IsZero() {
		return nil
	}
	if err := t.store.AddCounters(ctx, id, delta); err != nil {
		t.logger.Error("failed to update mailbox counters",
			"mailbox_id", id,
			"count_delta", delta.Count,
			"unseen_delta", delta.Unseen,
			"error", err,
		)
		return err
	}
	return nil
}

// Counters returns both aggregates.
func (t *Tracker) Counters(ctx context.Context, id store.MailboxID) (store.MailboxCounters, error) {
	return t.store.LoadCounters(ctx, id)
}

// Count returns the number of messages in the mailbox.
func (t *Tracker) Count(ctx context.Context, id store.MailboxID) (int64, error) {
	c, err := t.store.LoadCounters(ctx, id)
	return c.Count, err
}

// Unseen returns the number of messages without SEEN.
func (t *Tracker) Unseen(ctx context.Context, id store.MailboxID) (int64, error) {
	c, err := t.store.LoadCounters(ctx, id)
	return c.Unseen, err
}
