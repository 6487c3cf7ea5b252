package cassandra

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gocql/gocql"

	"github.com/rbaliyan/imapstore/store"
)

const (
	metadataColumns = `uid, modseq, system_flags, keywords, version, internal_date, size`
	fullColumns     = metadataColumns + `, content`
)

// messageScanner scans one message row. UIDs and ModSeqs are bigint,
// which bounds them to 2^63-1.
type messageScanner struct {
	uid, modSeq, version, size int64
	system                     int
	keywords                   []string
	internalDate               time.Time
	content                    []byte
}

func (m *messageScanner) dest(full bool) []any {
	d := []any{&m.uid, &m.modSeq, &m.system, &m.keywords, &m.version, &m.internalDate, &m.size}
	if full {
		d = append(d, &m.content)
	}
	return d
}

func (m *messageScanner) message(id store.MailboxID) *store.Message {
	return &store.Message{
		MailboxID:    id,
		UID:          store.UID(m.uid),
		ModSeq:       store.ModSeq(m.modSeq),
		Flags:        store.NewFlags(store.SystemFlag(m.system), m.keywords...),
		Version:      m.version,
		InternalDate: m.internalDate,
		Size:         m.size,
		Content:      m.content,
	}
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

	err := s.query(ctx, `INSERT INTO message (mailbox_id, `+fullColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(msg.MailboxID), int64(msg.UID), int64(msg.ModSeq), int(msg.Flags.System),
		msg.Flags.User, msg.Version, msg.InternalDate, msg.Size, msg.Content).Exec()
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

	var row messageScanner
	err := s.query(ctx, `SELECT `+fullColumns+` FROM message WHERE mailbox_id = ? AND uid = ?`,
		string(id), int64(uid)).Scan(row.dest(true)...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure("get message", err)
	}
	return row.message(id), nil
}

// SwapFlags writes flags and modSeq if the stored version equals expectedVersion.
func (s *Store) SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.cas(ctx, "swap flags", nil,
		`UPDATE message SET system_flags = ?, keywords = ?, modseq = ?, version = ?
		WHERE mailbox_id = ? AND uid = ? IF version = ?`,
		int(flags.System), flags.User, int64(modSeq), expectedVersion+1,
		string(id), int64(uid), expectedVersion)
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	applied, err := s.cas(ctx, "delete message", nil,
		`DELETE FROM message WHERE mailbox_id = ? AND uid = ? IF EXISTS`, string(id), int64(uid))
	if err != nil {
		return err
	}
	if !applied {
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

	return s.cas(ctx, "delete message", nil,
		`DELETE FROM message WHERE mailbox_id = ? AND uid = ? IF version = ?`,
		string(id), int64(uid), expectedVersion)
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

	full := fetch == store.FetchFull
	columns := metadataColumns
	if full {
		columns = fullColumns
	}
	stmt := `SELECT ` + columns + ` FROM message WHERE mailbox_id = ? AND uid >= ?`
	args := []any{string(id), int64(lo)}
	if hi < math.MaxInt64 {
		stmt += ` AND uid <= ?`
		args = append(args, int64(hi))
	}
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}

	iter := s.query(ctx, stmt, args...).Iter()
	var result []*store.Message
	for {
		var row messageScanner
		if !iter.Scan(row.dest(full)...) {
			break
		}
		result = append(result, row.message(id))
	}
	if err := iter.Close(); err != nil {
		return nil, store.Failure("scan messages", err)
	}
	return result, nil
}
