// Package postgres provides a PostgreSQL implementation of store.Backend.
//
// Every operation is a single statement. Conditional writes are UPDATEs
// filtered on the expected value and report success through the affected
// row count; conditional inserts use ON CONFLICT DO NOTHING.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rbaliyan/imapstore/store"
)

// Compile-time check
var _ store.Backend = (*Store)(nil)

// Store implements store.Backend using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger

	mailboxes string
	messages  string
	sequences string
	counters  string
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:        db,
		opts:      o,
		logger:    o.logger,
		mailboxes: o.table("mailboxes"),
		messages:  o.table("messages"),
		sequences: o.table("sequences"),
		counters:  o.table("counters"),
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// ensureSchema creates the required tables.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			uid_validity BIGINT NOT NULL,
			UNIQUE (namespace, owner, name)
		)`, s.mailboxes),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mailbox_id TEXT NOT NULL,
			uid BIGINT NOT NULL,
			modseq BIGINT NOT NULL,
			system_flags SMALLINT NOT NULL DEFAULT 0,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 0,
			internal_date TIMESTAMPTZ NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			content BYTEA,
			PRIMARY KEY (mailbox_id, uid)
		)`, s.messages),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			kind TEXT NOT NULL,
			mailbox_id TEXT NOT NULL,
			value BIGINT NOT NULL,
			PRIMARY KEY (kind, mailbox_id)
		)`, s.sequences),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mailbox_id TEXT PRIMARY KEY,
			count BIGINT NOT NULL DEFAULT 0,
			unseen BIGINT NOT NULL DEFAULT 0
		)`, s.counters),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// =============================================================================
// Mailbox Operations
// =============================================================================

type mailboxRow struct {
	ID          string `db:"id"`
	Namespace   string `db:"namespace"`
	Owner       string `db:"owner"`
	Name        string `db:"name"`
	UIDValidity int64  `db:"uid_validity"`
}

func (r *mailboxRow) toMailbox() *store.Mailbox {
	return &store.Mailbox{
		ID:          store.MailboxID(r.ID),
		Path:        store.NewPath(r.Namespace, r.Owner, r.Name),
		UIDValidity: uint32(r.UIDValidity),
	}
}

// GetMailbox returns the mailbox with the given ID.
func (s *Store) GetMailbox(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	query := fmt.Sprintf(`SELECT id, namespace, owner, name, uid_validity FROM %s WHERE id = $1`, s.mailboxes)
	return s.getMailbox(ctx, "get mailbox", query, string(id))
}

// GetMailboxByPath returns the mailbox at path.
func (s *Store) GetMailboxByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, namespace, owner, name, uid_validity FROM %s
		WHERE namespace = $1 AND owner = $2 AND name = $3`, s.mailboxes)
	return s.getMailbox(ctx, "get mailbox by path", query, path.Namespace, path.User, path.Name)
}

func (s *Store) getMailbox(ctx context.Context, op, query string, args ...any) (*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row mailboxRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure(op, err)
	}
	return row.toMailbox(), nil
}

// ListMailboxes returns the mailboxes matching filter.
func (s *Store) ListMailboxes(ctx context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, namespace, owner, name, uid_validity FROM %s`, s.mailboxes)
	var args []any
	if filter != nil {
		query += ` WHERE namespace = $1 AND owner = $2`
		args = append(args, filter.Namespace, filter.User)
	}

	var rows []mailboxRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, store.Failure("list mailboxes", err)
	}
	result := make([]*store.Mailbox, len(rows))
	for i := range rows {
		result[i] = rows[i].toMailbox()
	}
	return result, nil
}

// PutMailbox inserts or replaces a mailbox keyed by ID.
func (s *Store) PutMailbox(ctx context.Context, mailbox *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mailbox == nil || mailbox.ID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, owner, name, uid_validity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			namespace = EXCLUDED.namespace,
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			uid_validity = EXCLUDED.uid_validity
	`, s.mailboxes)
	_, err := s.db.ExecContext(ctx, query,
		string(mailbox.ID), mailbox.Path.Namespace, mailbox.Path.User, mailbox.Path.Name, int64(mailbox.UIDValidity))
	if isUniqueViolation(err) {
		return store.ErrDuplicateEntry
	}
	if err != nil {
		return store.Failure("put mailbox", err)
	}
	return nil
}

// DeleteMailbox removes a mailbox and everything it owns in one transaction.
func (s *Store) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Failure("delete mailbox", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, query := range []string{
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.mailboxes),
		fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1`, s.messages),
		fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1`, s.sequences),
		fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1`, s.counters),
	} {
		if _, err := tx.ExecContext(ctx, query, string(id)); err != nil {
			return store.Failure("delete mailbox", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return store.Failure("delete mailbox", err)
	}
	return nil
}
