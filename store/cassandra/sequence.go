package cassandra

import (
	"context"
	"errors"

	"github.com/gocql/gocql"

	"github.com/rbaliyan/imapstore/store"
)

// LoadSequence returns the last issued value.
func (s *Store) LoadSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var v int64
	err := s.query(ctx, `SELECT value FROM sequence WHERE kind = ? AND mailbox_id = ?`, kind.String(), string(id)).Scan(&v)
	if errors.Is(err, gocql.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Failure("load sequence", err)
	}
	return uint64(v), true, nil
}

// InsertSequence creates the row if absent.
func (s *Store) InsertSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.cas(ctx, "insert sequence", nil,
		`INSERT INTO sequence (kind, mailbox_id, value) VALUES (?, ?, ?) IF NOT EXISTS`,
		kind.String(), string(id), int64(value))
}

// SwapSequence sets the row to newValue if it holds oldValue.
func (s *Store) SwapSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.cas(ctx, "swap sequence", nil,
		`UPDATE sequence SET value = ? WHERE kind = ? AND mailbox_id = ? IF value = ?`,
		int64(newValue), kind.String(), string(id), int64(oldValue))
}

// AddCounters applies delta to the counter columns.
func (s *Store) AddCounters(ctx context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	err := s.query(ctx, `UPDATE mailbox_counters SET count = count + ?, unseen = unseen + ? WHERE mailbox_id = ?`,
		delta.Count, delta.Unseen, string(id)).Exec()
	if err != nil {
		return store.Failure("add counters", err)
	}
	return nil
}

// LoadCounters returns the mailbox counters.
func (s *Store) LoadCounters(ctx context.Context, id store.MailboxID) (store.MailboxCounters, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailboxCounters{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var c store.MailboxCounters
	err := s.query(ctx, `SELECT count, unseen FROM mailbox_counters WHERE mailbox_id = ?`, string(id)).
		Scan(&c.Count, &c.Unseen)
	if errors.Is(err, gocql.ErrNotFound) {
		return store.MailboxCounters{}, nil
	}
	if err != nil {
		return store.MailboxCounters{}, store.Failure("load counters", err)
	}
	return c, nil
}
