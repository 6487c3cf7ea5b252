// Package cassandra provides an Apache Cassandra implementation of
// store.Backend using gocql.
//
// Conditional writes are lightweight transactions (IF clauses) read with
// MapScanCAS; mailbox counters live in a counter table. The session must be
// bound to a keyspace.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gocql/gocql"

	"github.com/rbaliyan/imapstore/store"
)

// Store implements store.Backend using Cassandra.
type Store struct {
	session   *gocql.Session
	opts      *options
	logger    *slog.Logger
	connected int32
}

// Compile-time checks.
var (
	_ store.Backend           = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
)

// New creates a store over session. The caller owns the session.
func New(session *gocql.Session, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{session: session, opts: o, logger: o.logger}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mailbox (
		id text PRIMARY KEY,
		namespace text,
		user text,
		name text,
		uidvalidity bigint
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_path (
		path text PRIMARY KEY,
		id text
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		mailbox_id text,
		uid bigint,
		modseq bigint,
		system_flags int,
		keywords set<text>,
		version bigint,
		internal_date timestamp,
		size bigint,
		content blob,
		PRIMARY KEY (mailbox_id, uid)
	) WITH CLUSTERING ORDER BY (uid ASC)`,
	`CREATE TABLE IF NOT EXISTS sequence (
		kind text,
		mailbox_id text,
		value bigint,
		PRIMARY KEY ((kind, mailbox_id))
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_counters (
		mailbox_id text PRIMARY KEY,
		count counter,
		unseen counter
	)`,
	`CREATE TABLE IF NOT EXISTS subscription (
		user text,
		mailbox text,
		PRIMARY KEY (user, mailbox)
	)`,
}

// Connect creates the tables unless disabled with WithCreateSchema(false).
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}
	if s.session == nil {
		return fmt.Errorf("cassandra: session is required")
	}
	if s.opts.createSchema {
		for _, stmt := range schema {
			if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
	}
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	s.logger.Info("connected to Cassandra")
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the session.
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

func (s *Store) query(ctx context.Context, stmt string, args ...any) *gocql.Query {
	return s.session.Query(stmt, args...).WithContext(ctx)
}

// cas runs a conditional statement and reports whether it was applied.
// previous receives the current row when it was not.
func (s *Store) cas(ctx context.Context, op string, previous map[string]any, stmt string, args ...any) (bool, error) {
	if previous == nil {
		previous = make(map[string]any)
	}
	applied, err := s.query(ctx, stmt, args...).
		SerialConsistency(s.opts.serialConsistency).
		MapScanCAS(previous)
	if err != nil {
		return false, store.Failure(op, err)
	}
	return applied, nil
}

// =============================================================================
// Mailbox Operations
// =============================================================================

// GetMailbox returns the mailbox with the given ID.
func (s *Store) GetMailbox(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var (
		path        store.Path
		uidValidity int64
	)
	err := s.query(ctx, `SELECT namespace, user, name, uidvalidity FROM mailbox WHERE id = ?`, string(id)).
		Scan(&path.Namespace, &path.User, &path.Name, &uidValidity)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure("get mailbox", err)
	}
	return &store.Mailbox{ID: id, Path: path, UIDValidity: uint32(uidValidity)}, nil
}

// GetMailboxByPath returns the mailbox at path.
func (s *Store) GetMailboxByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	lookup, cancel := context.WithTimeout(ctx, s.opts.timeout)
	var id string
	err := s.query(lookup, `SELECT id FROM mailbox_path WHERE path = ?`, path.Key()).Scan(&id)
	cancel()
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure("get mailbox by path", err)
	}

	mb, err := s.GetMailbox(ctx, store.MailboxID(id))
	if err != nil {
		return nil, err
	}
	// A path claim whose mailbox row was renamed away is stale.
	if mb.Path != path {
		return nil, store.ErrNotFound
	}
	return mb, nil
}

// ListMailboxes returns the mailboxes matching filter. The mailbox table is
// scanned in full.
func (s *Store) ListMailboxes(ctx context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	iter := s.query(ctx, `SELECT id, namespace, user, name, uidvalidity FROM mailbox`).Iter()
	var (
		result      []*store.Mailbox
		id          string
		path        store.Path
		uidValidity int64
	)
	for iter.Scan(&id, &path.Namespace, &path.User, &path.Name, &uidValidity) {
		if filter.Match(path) {
			result = append(result, &store.Mailbox{
				ID:          store.MailboxID(id),
				Path:        path,
				UIDValidity: uint32(uidValidity),
			})
		}
	}
	if err := iter.Close(); err != nil {
		return nil, store.Failure("list mailboxes", err)
	}
	return result, nil
}

// PutMailbox inserts or replaces a mailbox keyed by ID. The path is claimed
// first with a conditional insert into mailbox_path; on rename the old claim
// is released after the mailbox row is written.
func (s *Store) PutMailbox(ctx context.Context, mailbox *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mailbox == nil || mailbox.ID == "" {
		return store.ErrInvalidID
	}

	id := string(mailbox.ID)
	prev, err := s.GetMailbox(ctx, mailbox.ID)
	if err != nil && !store.IsNotFound(err) {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	holder := make(map[string]any)
	applied, err := s.cas(ctx, "put mailbox", holder,
		`INSERT INTO mailbox_path (path, id) VALUES (?, ?) IF NOT EXISTS`, mailbox.Path.Key(), id)
	if err != nil {
		return err
	}
	if !applied && holder["id"] != id {
		return store.ErrDuplicateEntry
	}

	err = s.query(ctx, `INSERT INTO mailbox (id, namespace, user, name, uidvalidity) VALUES (?, ?, ?, ?, ?)`,
		id, mailbox.Path.Namespace, mailbox.Path.User, mailbox.Path.Name, int64(mailbox.UIDValidity)).Exec()
	if err != nil {
		return store.Failure("put mailbox", err)
	}

	if prev != nil && prev.Path != mailbox.Path {
		if _, err := s.cas(ctx, "put mailbox", nil,
			`DELETE FROM mailbox_path WHERE path = ? IF id = ?`, prev.Path.Key(), id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteMailbox removes a mailbox and everything it owns. Each table is
// cleaned with its own statement.
func (s *Store) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	mb, err := s.GetMailbox(ctx, id)
	if err != nil && !store.IsNotFound(err) {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if mb != nil {
		if _, err := s.cas(ctx, "delete mailbox", nil,
			`DELETE FROM mailbox_path WHERE path = ? IF id = ?`, mb.Path.Key(), string(id)); err != nil {
			return err
		}
	}
	stmts := []struct {
		cql  string
		args []any
	}{
		{`DELETE FROM mailbox WHERE id = ?`, []any{string(id)}},
		{`DELETE FROM message WHERE mailbox_id = ?`, []any{string(id)}},
		{`DELETE FROM sequence WHERE kind = ? AND mailbox_id = ?`, []any{store.SequenceUID.String(), string(id)}},
		{`DELETE FROM sequence WHERE kind = ? AND mailbox_id = ?`, []any{store.SequenceModSeq.String(), string(id)}},
		{`DELETE FROM mailbox_counters WHERE mailbox_id = ?`, []any{string(id)}},
	}
	for _, stmt := range stmts {
		if err := s.query(ctx, stmt.cql, stmt.args...).Exec(); err != nil {
			return store.Failure("delete mailbox", err)
		}
	}
	return nil
}
