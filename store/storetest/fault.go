package storetest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rbaliyan/imapstore/store"
)

// ErrInjected is returned by Faulty when a failure is injected.
var ErrInjected = errors.New("storetest: injected failure")

// Faulty wraps a backend to simulate contention and failures.
type Faulty struct {
	store.Backend

	// LoseFlagSwaps makes every SwapFlags report not applied.
	LoseFlagSwaps atomic.Bool
	// LoseSequenceSwaps makes every SwapSequence and InsertSequence report not applied.
	LoseSequenceSwaps atomic.Bool
	// FailWrites makes every write return ErrInjected.
	FailWrites atomic.Bool

	// BeforeSwapFlags, when set, runs before each SwapFlags reaches the
	// backend. call counts the SwapFlags calls made before this one.
	BeforeSwapFlags func(ctx context.Context, id store.MailboxID, uid store.UID, call int)

	// BeforeDeleteMessageIf, when set, runs before each DeleteMessageIf
	// reaches the backend. call counts the calls made before this one.
	BeforeDeleteMessageIf func(ctx context.Context, id store.MailboxID, uid store.UID, call int)

	// VanishOnScan makes ScanMessages delete the first row of every result
	// holding at least two rows and leave it out, as happens when a row is
	// deleted between a backend's index read and its row read.
	VanishOnScan atomic.Bool

	flagSwaps atomic.Int64
	seqSwaps  atomic.Int64
	scanCalls atomic.Int64
	deletes   atomic.Int64
}

// NewFaulty wraps b.
func NewFaulty(b store.Backend) *Faulty {
	return &Faulty{Backend: b}
}

// FlagSwaps returns how many SwapFlags calls were made.
func (f *Faulty) FlagSwaps() int64 { return f.flagSwaps.Load() }

// SequenceSwaps returns how many SwapSequence calls were made.
func (f *Faulty) SequenceSwaps() int64 { return f.seqSwaps.Load() }

// Scans returns how many ScanMessages calls were made.
func (f *Faulty) Scans() int64 { return f.scanCalls.Load() }

func (f *Faulty) SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	n := f.flagSwaps.Add(1) - 1
	if f.FailWrites.Load() {
		return false, store.Failure("swap flags", ErrInjected)
	}
	if f.BeforeSwapFlags != nil {
		f.BeforeSwapFlags(ctx, id, uid, int(n))
	}
	if f.LoseFlagSwaps.Load() {
		return false, nil
	}
	return f.Backend.SwapFlags(ctx, id, uid, expectedVersion, flags, modSeq)
}

func (f *Faulty) InsertSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	if f.FailWrites.Load() {
		return false, store.Failure("insert sequence", ErrInjected)
	}
	if f.LoseSequenceSwaps.Load() {
		return false, nil
	}
	return f.Backend.InsertSequence(ctx, kind, id, value)
}

func (f *Faulty) SwapSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	f.seqSwaps.Add(1)
	if f.FailWrites.Load() {
		return false, store.Failure("swap sequence", ErrInjected)
	}
	if f.LoseSequenceSwaps.Load() {
		return false, nil
	}
	return f.Backend.SwapSequence(ctx, kind, id, oldValue, newValue)
}

func (f *Faulty) InsertMessage(ctx context.Context, msg *store.Message) error {
	if f.FailWrites.Load() {
		return store.Failure("insert message", ErrInjected)
	}
	return f.Backend.InsertMessage(ctx, msg)
}

func (f *Faulty) PutMailbox(ctx context.Context, mailbox *store.Mailbox) error {
	if f.FailWrites.Load() {
		return store.Failure("put mailbox", ErrInjected)
	}
	return f.Backend.PutMailbox(ctx, mailbox)
}

func (f *Faulty) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if f.FailWrites.Load() {
		return store.Failure("delete mailbox", ErrInjected)
	}
	return f.Backend.DeleteMailbox(ctx, id)
}

func (f *Faulty) DeleteMessageIf(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64) (bool, error) {
	n := f.deletes.Add(1) - 1
	if f.FailWrites.Load() {
		return false, store.Failure("delete message", ErrInjected)
	}
	if f.BeforeDeleteMessageIf != nil {
		f.BeforeDeleteMessageIf(ctx, id, uid, int(n))
	}
	return f.Backend.DeleteMessageIf(ctx, id, uid, expectedVersion)
}

func (f *Faulty) ScanMessages(ctx context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	f.scanCalls.Add(1)
	msgs, err := f.Backend.ScanMessages(ctx, id, rng, fetch, limit)
	if err != nil || !f.VanishOnScan.Load() || len(msgs) < 2 {
		return msgs, err
	}
	if err := f.Backend.DeleteMessage(ctx, id, msgs[0].UID); err != nil {
		return nil, err
	}
	return msgs[1:], nil
}
