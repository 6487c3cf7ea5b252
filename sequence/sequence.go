// Package sequence allocates per-mailbox UIDs and ModSeqs.
//
// Each mailbox has one counter row per kind holding the last issued value.
// Next reads the row and conditionally writes value+1, retrying when another
// allocator won the race. The values returned for a mailbox are strictly
// increasing with no gaps or repeats, across any number of processes
// sharing the backing store.
package sequence

import (
	"context"

	"github.com/rbaliyan/imapstore/retry"
	"github.com/rbaliyan/imapstore/store"
)

// Allocator hands out sequence values of one kind.
// It holds no state between calls and is safe for concurrent use.
type Allocator[T ~uint64] struct {
	store store.SequenceStore
	kind  store.SequenceKind
	opts  *options
}

// New creates an allocator for kind backed by s.
func New[T ~uint64](s store.SequenceStore, kind store.SequenceKind, opts ...Option) *Allocator[T] {
	return &Allocator[T]{store: s, kind: kind, opts: newOptions(opts...)}
}

// NewUID creates the UID allocator.
func NewUID(s store.SequenceStore, opts ...Option) *Allocator[store.UID] {
	return New[store.UID](s, store.SequenceUID, opts...)
}

// NewModSeq creates the ModSeq allocator.
func NewModSeq(s store.SequenceStore, opts ...Option) *Allocator[store.ModSeq] {
	return New[store.ModSeq](s, store.SequenceModSeq, opts...)
}

// Kind returns the sequence kind.
func (a *Allocator[T]) Kind() store.SequenceKind {
	return a.kind
}

// Next allocates the next value for the mailbox.
// Returns an error matching store.ErrAllocationExhausted when every attempt
// lost its race. Backend errors are returned as-is and never retried.
func (a *Allocator[T]) Next(ctx context.Context, id store.MailboxID) (T, error) {
	current, found, err := a.store.LoadSequence(ctx, a.kind, id)
	if err != nil {
		return 0, err
	}
	if !found {
		applied, err := a.store.InsertSequence(ctx, a.kind, id, 1)
		if err != nil {
			return 0, err
		}
		if applied {
			return 1, nil
		}
	}

	// The first attempt reuses the value loaded above when there was one.
	loaded := found
	var next uint64
	attempts, err := retry.Loop(ctx, a.opts.retry, func(ctx context.Context, _ int) (bool, error) {
		if !loaded {
			v, ok, err := a.store.LoadSequence(ctx, a.kind, id)
			if err != nil {
				return false, err
			}
			if !ok {
				// The row vanished, typically because the mailbox was deleted.
				applied, err := a.store.InsertSequence(ctx, a.kind, id, 1)
				if err != nil || !applied {
					return false, err
				}
				next = 1
				return true, nil
			}
			current = v
		}
		loaded = false

		applied, err := a.store.SwapSequence(ctx, a.kind, id, current, current+1)
		if err != nil || !applied {
			return false, err
		}
		next = current + 1
		return true, nil
	})
	if retry.IsExhausted(err) {
		a.opts.logger.Warn("sequence allocation exhausted",
			"mailbox_id", id,
			"kind", a.kind.String(),
			"attempts", attempts,
		)
		return 0, &store.AllocationError{MailboxID: id, Kind: a.kind, Attempts: attempts}
	}
	if err != nil {
		return 0, err
	}
	if attempts > 1 {
		a.opts.logger.Debug("sequence allocation contended",
			"mailbox_id", id,
			"kind", a.kind.String(),
			"attempts", attempts,
		)
	}
	return T(next), nil
}

// Highest returns the last issued value, 0 when nothing was allocated yet.
func (a *Allocator[T]) Highest(ctx context.Context, id store.MailboxID) (T, error) {
	v, found, err := a.store.LoadSequence(ctx, a.kind, id)
	if err != nil || !found {
		return 0, err
	}
	return T(v), nil
}
