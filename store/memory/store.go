// Package memory provides an in-memory Backend implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/imapstore/store"
)

// Store implements store.Backend with in-memory storage.
// Every conditional write runs under the lock of the single row it touches,
// which gives the same single-row compare-and-swap semantics as the
// database backends. Thread-safe for concurrent use.
type Store struct {
	mu        sync.RWMutex // guards mailboxes and paths
	mailboxes map[store.MailboxID]*store.Mailbox
	paths     map[store.Path]store.MailboxID

	messages      sync.Map // map[store.MailboxID]*messageTable
	sequences     sync.Map // map[sequenceKey]uint64
	counters      sync.Map // map[store.MailboxID]*mailboxCounters
	subscriptions sync.Map // map[string]*subscriptionSet
	rowLocks      sync.Map // map[any]*sync.Mutex (per-row locks for conditional writes)

	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		mailboxes: make(map[store.MailboxID]*store.Mailbox),
		paths:     make(map[store.Path]store.MailboxID),
	}
}

// Compile-time checks.
var (
	_ store.Backend           = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
)

// getRowLock returns the mutex for a row key, creating one if needed.
// Uses LoadOrStore for atomic get-or-create.
func (s *Store) getRowLock(key any) *sync.Mutex {
	lock, _ := s.rowLocks.LoadOrStore(key, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// Mailbox Operations
// =============================================================================

// GetMailbox returns the mailbox with the given ID.
func (s *Store) GetMailbox(_ context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return mb.Clone(), nil
}

// GetMailboxByPath returns the mailbox at path.
func (s *Store) GetMailboxByPath(_ context.Context, path store.Path) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.paths[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.mailboxes[id].Clone(), nil
}

// ListMailboxes returns the mailboxes matching filter.
func (s *Store) ListMailboxes(_ context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*store.Mailbox, 0, len(s.mailboxes))
	for _, mb := range s.mailboxes {
		if filter.Match(mb.Path) {
			result = append(result, mb.Clone())
		}
	}
	return result, nil
}

// PutMailbox inserts or replaces a mailbox keyed by ID.
func (s *Store) PutMailbox(_ context.Context, mailbox *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mailbox == nil || mailbox.ID == "" {
		return store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.paths[mailbox.Path]; ok && holder != mailbox.ID {
		return store.ErrDuplicateEntry
	}
	if prev, ok := s.mailboxes[mailbox.ID]; ok && prev.Path != mailbox.Path {
		delete(s.paths, prev.Path)
	}
	s.mailboxes[mailbox.ID] = mailbox.Clone()
	s.paths[mailbox.Path] = mailbox.ID
	return nil
}

// DeleteMailbox removes a mailbox and everything it owns.
func (s *Store) DeleteMailbox(_ context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	if mb, ok := s.mailboxes[id]; ok {
		delete(s.paths, mb.Path)
		delete(s.mailboxes, id)
	}
	s.mu.Unlock()

	s.messages.Delete(id)
	s.counters.Delete(id)
	for _, kind := range []store.SequenceKind{store.SequenceUID, store.SequenceModSeq} {
		key := sequenceKey{kind: kind, id: id}
		lock := s.getRowLock(key)
		lock.Lock()
		s.sequences.Delete(key)
		lock.Unlock()
	}
	return nil
}
