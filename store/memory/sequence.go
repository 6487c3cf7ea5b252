package memory

import (
	"context"
	"sync/atomic"

	"github.com/rbaliyan/imapstore/store"
)

type sequenceKey struct {
	kind store.SequenceKind
	id   store.MailboxID
}

// LoadSequence returns the last issued value.
func (s *Store) LoadSequence(_ context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}
	v, ok := s.sequences.Load(sequenceKey{kind: kind, id: id})
	if !ok {
		return 0, false, nil
	}
	return v.(uint64), true, nil
}

// InsertSequence creates the row if absent.
func (s *Store) InsertSequence(_ context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	key := sequenceKey{kind: kind, id: id}
	lock := s.getRowLock(key)
	lock.Lock()
	defer lock.Unlock()
	_, loaded := s.sequences.LoadOrStore(key, value)
	return !loaded, nil
}

// SwapSequence sets the row to newValue if it holds oldValue.
func (s *Store) SwapSequence(_ context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	key := sequenceKey{kind: kind, id: id}
	lock := s.getRowLock(key)
	lock.Lock()
	defer lock.Unlock()
	return s.sequences.CompareAndSwap(key, oldValue, newValue), nil
}

// mailboxCounters holds the aggregates of one mailbox.
type mailboxCounters struct {
	count  atomic.Int64
	unseen atomic.Int64
}

// AddCounters applies delta to the mailbox counters.
func (s *Store) AddCounters(_ context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	v, _ := s.counters.LoadOrStore(id, &mailboxCounters{})
	c := v.(*mailboxCounters)
	c.count.Add(delta.Count)
	c.unseen.Add(delta.Unseen)
	return nil
}

// LoadCounters returns the mailbox counters.
func (s *Store) LoadCounters(_ context.Context, id store.MailboxID) (store.MailboxCounters, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailboxCounters{}, err
	}
	v, ok := s.counters.Load(id)
	if !ok {
		return store.MailboxCounters{}, nil
	}
	c := v.(*mailboxCounters)
	return store.MailboxCounters{Count: c.count.Load(), Unseen: c.unseen.Load()}, nil
}
