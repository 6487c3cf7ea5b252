// Package store provides the types and contracts of the IMAP mailbox store.
// Backends are in store/memory, store/redis, store/mongo, store/postgres,
// store/bolt and store/cassandra.
//
// # Architectural Principle: No Distributed Locks
//
// The backing store is assumed to offer single-row operations only: get by
// key, unconditional put, conditional put reporting applied/not-applied,
// delete, commutative counter increments and a range scan ordered by UID.
// There are no multi-row transactions and no locks. Concurrency is handled
// through:
//
//  1. Compare-and-swap sequence rows: UID and ModSeq allocation reads the
//     last issued value and conditionally writes value+1. A lost race is
//     re-read and retried, bounded by an attempt count.
//
//  2. Optimistic version tokens: every message row carries a version that is
//     incremented by exactly one on each successful flag write. Flag writes
//     are conditioned on the version read beforehand.
//
//  3. Commutative counters: message and unseen counts are maintained with
//     independent increments that do not depend on the order of writers.
//
// Example - Allocating a UID:
//
//	// WRONG: lock then read-modify-write (DO NOT USE)
//	lock.Acquire("uid:" + mailboxID)
//	defer lock.Release()
//	v := store.Load(mailboxID)
//	store.Put(mailboxID, v+1)
//
//	// CORRECT: conditional write, retry on a lost race
//	for {
//	    v, _, _ := seq.LoadSequence(ctx, store.SequenceUID, id)
//	    if ok, _ := seq.SwapSequence(ctx, store.SequenceUID, id, v, v+1); ok {
//	        return v + 1
//	    }
//	}
//
// Counter updates are not tied to the row write they accompany. A crash
// between the two leaves the counters transiently off; this window is
// accepted and not repaired.
package store

import (
	"context"
)

// Backend is the storage interface consumed by the mappers.
//
// All operations must be safe for concurrent use from several processes.
// Implementations must rely on the database's single-row atomicity rather
// than on external locking. See package documentation for details.
type Backend interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	MailboxStore
	MessageStore
	SequenceStore
	CounterStore
}

// MailboxStore persists mailbox records.
type MailboxStore interface {
	// GetMailbox returns the mailbox with the given ID or ErrNotFound.
	GetMailbox(ctx context.Context, id MailboxID) (*Mailbox, error)

	// GetMailboxByPath returns the mailbox at the given path or ErrNotFound.
	GetMailboxByPath(ctx context.Context, path Path) (*Mailbox, error)

	// ListMailboxes returns the mailboxes matching the filter.
	// A nil filter returns every mailbox.
	ListMailboxes(ctx context.Context, filter *PathFilter) ([]*Mailbox, error)

	// PutMailbox inserts or replaces the mailbox keyed by its ID.
	// A rename moves the path entry. Returns ErrDuplicateEntry if the path
	// is held by a different mailbox.
	PutMailbox(ctx context.Context, mailbox *Mailbox) error

	// DeleteMailbox removes the mailbox together with its messages,
	// counters and sequences. Deleting a missing mailbox is not an error.
	DeleteMailbox(ctx context.Context, id MailboxID) error
}

// MessageStore persists message rows keyed by (mailbox ID, UID).
type MessageStore interface {
	// InsertMessage writes the row unconditionally.
	InsertMessage(ctx context.Context, msg *Message) error

	// GetMessage returns the full row or ErrNotFound.
	GetMessage(ctx context.Context, id MailboxID, uid UID) (*Message, error)

	// SwapFlags sets flags and modSeq and increments the version, only if the
	// stored version still equals expectedVersion. It reports whether the
	// write was applied. A missing row is reported as not applied.
	SwapFlags(ctx context.Context, id MailboxID, uid UID, expectedVersion int64, flags Flags, modSeq ModSeq) (bool, error)

	// DeleteMessage removes the row. Returns ErrNotFound if it did not exist.
	DeleteMessage(ctx context.Context, id MailboxID, uid UID) error

	// DeleteMessageIf removes the row only if its version equals
	// expectedVersion and reports whether it was removed. A missing row is
	// reported as not removed.
	DeleteMessageIf(ctx context.Context, id MailboxID, uid UID, expectedVersion int64) (bool, error)

	// ScanMessages returns up to limit rows in rng ordered by ascending UID.
	// A limit <= 0 means no limit. FetchMetadata leaves Content nil.
	// Fewer than limit rows may come back while more remain in rng; an
	// empty result means none remain.
	ScanMessages(ctx context.Context, id MailboxID, rng MessageRange, fetch FetchType, limit int) ([]*Message, error)
}

// SequenceStore holds one counter row per (kind, mailbox).
type SequenceStore interface {
	// LoadSequence returns the last issued value and whether the row exists.
	LoadSequence(ctx context.Context, kind SequenceKind, id MailboxID) (uint64, bool, error)

	// InsertSequence creates the row with value if it does not exist yet.
	// It reports whether the insert was applied.
	InsertSequence(ctx context.Context, kind SequenceKind, id MailboxID, value uint64) (bool, error)

	// SwapSequence sets the row to newValue only if it currently holds
	// oldValue. It reports whether the write was applied.
	SwapSequence(ctx context.Context, kind SequenceKind, id MailboxID, oldValue, newValue uint64) (bool, error)
}

// CounterStore maintains the per-mailbox aggregates.
type CounterStore interface {
	// AddCounters adds delta to the mailbox counters, creating them if needed.
	AddCounters(ctx context.Context, id MailboxID, delta MailboxCounters) error

	// LoadCounters returns the current counters; zero when none exist.
	LoadCounters(ctx context.Context, id MailboxID) (MailboxCounters, error)
}

// SubscriptionStore is an optional backend capability holding IMAP
// subscriptions. Backends that implement it can back a SubscriptionMapper.
type SubscriptionStore interface {
	PutSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, sub Subscription) error
	ListSubscriptions(ctx context.Context, user string) ([]Subscription, error)
}
