// Package flagupdate applies flag changes to messages under concurrent writers.
//
// Each message row carries a version token. An update reads the row,
// computes the new flags, allocates a ModSeq and writes conditionally on
// the version it read. When another writer got there first, the row is
// re-read and the change recomputed against the fresh flags: add and
// remove are rebased, so two concurrent "add A" and "remove B" both take
// effect, while replace stays fixed. The allocated ModSeq is reused on a
// retry only if the row's ModSeq did not move in between.
//
// Updates over a range are not atomic. A failure stops the range and
// leaves earlier messages updated.
package flagupdate

import (
	"context"
	"iter"

	"github.com/rbaliyan/imapstore/retry"
	"github.com/rbaliyan/imapstore/store"
)

// MessageRows is the row access the resolver needs.
type MessageRows interface {
	GetMessage(ctx context.Context, id store.MailboxID, uid store.UID) (*store.Message, error)
	SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error)
}

// ModSeqAllocator hands out ModSeqs.
type ModSeqAllocator interface {
	Next(ctx context.Context, id store.MailboxID) (store.ModSeq, error)
}

// UnseenTracker is told about every applied flag transition.
type UnseenTracker interface {
	FlagsChanged(ctx context.Context, id store.MailboxID, oldFlags, newFlags store.Flags) error
}

// Outcome is the terminal state of a single-message update.
type Outcome int

const (
	// Applied means the conditional write succeeded.
	Applied Outcome = iota + 1
	// Vanished means the message was deleted while the update was retrying.
	// It is not an error.
	Vanished
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Vanished:
		return "vanished"
	default:
		return "failed"
	}
}

// Result describes a single-message update. Outcome is zero when the
// write was not applied.
type Result struct {
	Outcome  Outcome
	Updated  store.UpdatedFlags
	Attempts int
}

// Resolver runs the conditional-write loop. It is stateless between calls
// and safe for concurrent use.
type Resolver struct {
	rows    MessageRows
	modSeqs ModSeqAllocator
	unseen  UnseenTracker
	opts    *options
}

// New creates a resolver.
func New(rows MessageRows, modSeqs ModSeqAllocator, unseen UnseenTracker, opts ...Option) *Resolver {
	return &Resolver{rows: rows, modSeqs: modSeqs, unseen: unseen, opts: newOptions(opts...)}
}

// Update applies update to the message whose row was read as current.
// Returns an error matching store.ErrMaxRetriesExceeded when the write was
// lost more times than allowed; the stored flags are then left as the
// last winning writer set them.
func (r *Resolver) Update(ctx context.Context, current *store.Message, update store.FlagUpdate) (Result, error) {
	id, uid := current.MailboxID, current.UID

	oldFlags := current.Flags
	newFlags := update.Apply(oldFlags)
	expected := current.Version
	seenModSeq := current.ModSeq

	modSeq, err := r.modSeqs.Next(ctx, id)
	if err != nil {
		return Result{}, err
	}

	vanished := false
	attempts, err := retry.Loop(ctx, r.opts.retry, func(ctx context.Context, attempt int) (bool, error) {
		if attempt > 0 {
			fresh, err := r.rows.GetMessage(ctx, id, uid)
			if store.IsNotFound(err) {
				vanished = true
				return true, nil
			}
			if err != nil {
				return false, err
			}
			oldFlags = fresh.Flags
			newFlags = update.Apply(oldFlags)
			expected = fresh.Version
			if fresh.ModSeq != seenModSeq {
				if modSeq, err = r.modSeqs.Next(ctx, id); err != nil {
					return false, err
				}
				seenModSeq = fresh.ModSeq
			}
		}
		return r.rows.SwapFlags(ctx, id, uid, expected, newFlags, modSeq)
	})
	if retry.IsExhausted(err) {
		r.opts.logger.Warn("flag update retries exhausted",
			"mailbox_id", id,
			"uid", uid,
			"attempts", attempts,
		)
		return Result{Attempts: attempts}, &store.RetryError{MailboxID: id, UID: uid, Attempts: attempts}
	}
	if err != nil {
		return Result{Attempts: attempts}, err
	}
	if vanished {
		r.opts.logger.Debug("message vanished during flag update", "mailbox_id", id, "uid", uid)
		return Result{Outcome: Vanished, Attempts: attempts}, nil
	}
	if attempts > 1 {
		r.opts.logger.Debug("flag update rebased after conflict",
			"mailbox_id", id,
			"uid", uid,
			"attempts", attempts,
		)
	}

	res := Result{
		Outcome:  Applied,
		Attempts: attempts,
		Updated:  store.UpdatedFlags{UID: uid, ModSeq: modSeq, OldFlags: oldFlags, NewFlags: newFlags},
	}
	if err := r.unseen.FlagsChanged(ctx, id, oldFlags, newFlags); err != nil {
		return res, err
	}
	return res, nil
}

// UpdateRange applies update to every message yielded by msgs, in order.
// Vanished messages are skipped. On error it returns the updates applied
// so far together with the error.
func (r *Resolver) UpdateRange(ctx context.Context, msgs iter.Seq2[*store.Message, error], update store.FlagUpdate) ([]store.UpdatedFlags, error) {
	var updated []store.UpdatedFlags
	for msg, err := range msgs {
		if err != nil {
			return updated, err
		}
		res, err := r.Update(ctx, msg, update)
		if res.Outcome == Applied {
			updated = append(updated, res.Updated)
		}
		if err != nil {
			return updated, err
		}
	}
	return updated, nil
}
