package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"github.com/rbaliyan/imapstore/store"
)

// messageRow is the database row of a message.
// UIDs and ModSeqs are BIGINT, which bounds them to 2^63-1.
type messageRow struct {
	MailboxID    string         `db:"mailbox_id"`
	UID          int64          `db:"uid"`
	ModSeq       int64          `db:"modseq"`
	SystemFlags  int16          `db:"system_flags"`
	Keywords     pq.StringArray `db:"keywords"`
	Version      int64          `db:"version"`
	InternalDate time.Time      `db:"internal_date"`
	Size         int64          `db:"size"`
	Content      []byte         `db:"content"`
}

func (r *messageRow) toMessage() *store.Message {
	return &store.Message{
		MailboxID:    store.MailboxID(r.MailboxID),
		UID:          store.UID(r.UID),
		ModSeq:       store.ModSeq(r.ModSeq),
		Flags:        store.NewFlags(store.SystemFlag(r.SystemFlags), r.Keywords...),
		Version:      r.Version,
		InternalDate: r.InternalDate,
		Size:         r.Size,
		Content:      r.Content,
	}
}

const (
	metadataColumns = `mailbox_id, uid, modseq, system_flags, keywords, version, internal_date, size`
	fullColumns     = metadataColumns + `, content`
)

func keywords(f store.Flags) pq.StringArray {
	if f.User == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(f.User)
}

// InsertMessage writes the row unconditionally.
func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if msg == nil || msg.MailboxID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (mailbox_id, uid) DO UPDATE SET
			modseq = EXCLUDED.modseq,
			system_flags = EXCLUDED.system_flags,
			keywords = EXCLUDED.keywords,
			version = EXCLUDED.version,
			internal_date = EXCLUDED.internal_date,
			size = EXCLUDED.size,
			content = EXCLUDED.content
	`, s.messages, fullColumns)
	_, err := s.db.ExecContext(ctx, query,
		string(msg.MailboxID), int64(msg.UID), int64(msg.ModSeq), int16(msg.Flags.System),
		keywords(msg.Flags), msg.Version, msg.InternalDate.UTC(), msg.Size, msg.Content)
	if err != nil {
		return store.Failure("insert message", err)
	}
	return nil
}

// GetMessage returns the full row.
func (s *Store) GetMessage(ctx context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND uid = $2`, fullColumns, s.messages)
	var row messageRow
	err := s.db.GetContext(ctx, &row, query, string(id), int64(uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure("get message", err)
	}
	return row.toMessage(), nil
}

// SwapFlags writes flags and modSeq if the stored version equals expectedVersion.
func (s *Store) SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET system_flags = $3, keywords = $4, modseq = $5, version = version + 1
		WHERE mailbox_id = $1 AND uid = $2 AND version = $6
	`, s.messages)
	result, err := s.db.ExecContext(ctx, query,
		string(id), int64(uid), int16(flags.System), keywords(flags), int64(modSeq), expectedVersion)
	if err != nil {
		return false, store.Failure("swap flags", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.Failure("swap flags", err)
	}
	return n == 1, nil
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1 AND uid = $2`, s.messages)
	result, err := s.db.ExecContext(ctx, query, string(id), int64(uid))
	if err != nil {
		return store.Failure("delete message", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return store.Failure("delete message", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMessageIf removes the row if its version equals expectedVersion.
func (s *Store) DeleteMessageIf(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1 AND uid = $2 AND version = $3`, s.messages)
	result, err := s.db.ExecContext(ctx, query, string(id), int64(uid), expectedVersion)
	if err != nil {
		return false, store.Failure("delete message", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.Failure("delete message", err)
	}
	return n == 1, nil
}

// ScanMessages returns the rows in rng by ascending UID.
func (s *Store) ScanMessages(ctx context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	lo, hi := rng.Bounds()
	if rng.Empty() || lo > math.MaxInt64 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	columns := metadataColumns
	if fetch == store.FetchFull {
		columns = fullColumns
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND uid >= $2`, columns, s.messages)
	args := []any{string(id), int64(lo)}
	if hi < math.MaxInt64 {
		query += ` AND uid <= $3`
		args = append(args, int64(hi))
	}
	query += ` ORDER BY uid`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, store.Failure("scan messages", err)
	}
	result := make([]*store.Message, len(rows))
	for i := range rows {
		result[i] = rows[i].toMessage()
	}
	return result, nil
}
