package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rbaliyan/imapstore/store"
)

// LoadSequence returns the last issued value.
func (s *Store) LoadSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT value FROM %s WHERE kind = $1 AND mailbox_id = $2`, s.sequences)
	var v int64
	err := s.db.GetContext(ctx, &v, query, kind.String(), string(id))
	if errors.Is(err, sql.ErrNoRows) {
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

	query := fmt.Sprintf(`
		INSERT INTO %s (kind, mailbox_id, value) VALUES ($1, $2, $3)
		ON CONFLICT (kind, mailbox_id) DO NOTHING
	`, s.sequences)
	return s.execApplied(ctx, "insert sequence", query, kind.String(), string(id), int64(value))
}

// SwapSequence sets the row to newValue if it holds oldValue.
func (s *Store) SwapSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET value = $4 WHERE kind = $1 AND mailbox_id = $2 AND value = $3`, s.sequences)
	return s.execApplied(ctx, "swap sequence", query, kind.String(), string(id), int64(oldValue), int64(newValue))
}

// execApplied runs a conditional statement and reports whether it touched a row.
func (s *Store) execApplied(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, store.Failure(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.Failure(op, err)
	}
	return n == 1, nil
}

// AddCounters applies delta with an upsert.
func (s *Store) AddCounters(ctx context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s AS c (mailbox_id, count, unseen) VALUES ($1, $2, $3)
		ON CONFLICT (mailbox_id) DO UPDATE SET
			count = c.count + EXCLUDED.count,
			unseen = c.unseen + EXCLUDED.unseen
	`, s.counters)
	if _, err := s.db.ExecContext(ctx, query, string(id), delta.Count, delta.Unseen); err != nil {
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

	query := fmt.Sprintf(`SELECT count, unseen FROM %s WHERE mailbox_id = $1`, s.counters)
	var row struct {
		Count  int64 `db:"count"`
		Unseen int64 `db:"unseen"`
	}
	err := s.db.GetContext(ctx, &row, query, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.MailboxCounters{}, nil
	}
	if err != nil {
		return store.MailboxCounters{}, store.Failure("load counters", err)
	}
	return store.MailboxCounters{Count: row.Count, Unseen: row.Unseen}, nil
}
