package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/rbaliyan/imapstore/store"
)

// messageTable holds the rows of one mailbox.
type messageTable struct {
	mu   sync.Mutex
	rows map[store.UID]*store.Message
}

func (s *Store) table(id store.MailboxID) *messageTable {
	t, _ := s.messages.LoadOrStore(id, &messageTable{rows: make(map[store.UID]*store.Message)})
	return t.(*messageTable)
}

// InsertMessage writes the row unconditionally.
func (s *Store) InsertMessage(_ context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if msg == nil || msg.MailboxID == "" {
		return store.ErrInvalidID
	}
	t := s.table(msg.MailboxID)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[msg.UID] = msg.Clone()
	return nil
}

// GetMessage returns a copy of the row.
func (s *Store) GetMessage(_ context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	t := s.table(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.rows[uid]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

// SwapFlags writes flags and modSeq if the stored version equals expectedVersion.
func (s *Store) SwapFlags(_ context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	t := s.table(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	orig, ok := t.rows[uid]
	if !ok || orig.Version != expectedVersion {
		return false, nil
	}

	// Copy-on-write: rows handed out by GetMessage stay untouched.
	m := orig.Clone()
	m.Flags = flags.Clone()
	m.ModSeq = modSeq
	m.Version++
	t.rows[uid] = m
	return true, nil
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(_ context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	t := s.table(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[uid]; !ok {
		return store.ErrNotFound
	}
	delete(t.rows, uid)
	return nil
}

// DeleteMessageIf removes the row if its version equals expectedVersion.
func (s *Store) DeleteMessageIf(_ context.Context, id store.MailboxID, uid store.UID, expectedVersion int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	t := s.table(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.rows[uid]
	if !ok || m.Version != expectedVersion {
		return false, nil
	}
	delete(t.rows, uid)
	return true, nil
}

// ScanMessages returns the rows in rng by ascending UID.
func (s *Store) ScanMessages(_ context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	t := s.table(id)
	t.mu.Lock()
	uids := make([]store.UID, 0, len(t.rows))
	for uid := range t.rows {
		if rng.Contains(uid) {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	result := make([]*store.Message, 0, len(uids))
	for _, uid := range uids {
		m := t.rows[uid].Clone()
		if fetch == store.FetchMetadata {
			m.Content = nil
		}
		result = append(result, m)
	}
	t.mu.Unlock()
	return result, nil
}
