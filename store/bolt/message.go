package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/rbaliyan/imapstore/store"
)

// messageRecord is the stored form of a message row.
type messageRecord struct {
	ModSeq       uint64    `json:"modseq"`
	System       uint8     `json:"system"`
	Keywords     []string  `json:"keywords,omitempty"`
	Version      int64     `json:"version"`
	InternalDate time.Time `json:"internal_date"`
	Size         int64     `json:"size"`
	Content      []byte    `json:"content,omitempty"`
}

func encodeMessage(msg *store.Message) ([]byte, error) {
	return json.Marshal(messageRecord{
		ModSeq:       uint64(msg.ModSeq),
		System:       uint8(msg.Flags.System),
		Keywords:     msg.Flags.User,
		Version:      msg.Version,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Content:      msg.Content,
	})
}

func decodeMessage(id store.MailboxID, uid store.UID, data []byte) (*store.Message, error) {
	var rec messageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &store.Message{
		MailboxID:    id,
		UID:          uid,
		ModSeq:       store.ModSeq(rec.ModSeq),
		Flags:        store.NewFlags(store.SystemFlag(rec.System), rec.Keywords...),
		Version:      rec.Version,
		InternalDate: rec.InternalDate,
		Size:         rec.Size,
		Content:      rec.Content,
	}, nil
}

// messageBucket returns the rows bucket of a mailbox, or nil if it has none.
func messageBucket(tx *bbolt.Tx, id store.MailboxID) *bbolt.Bucket {
	return tx.Bucket(bucketMessages).Bucket([]byte(id))
}

// InsertMessage writes the row unconditionally.
func (s *Store) InsertMessage(_ context.Context, msg *store.Message) error {
	if msg == nil || msg.MailboxID == "" {
		return store.ErrInvalidID
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return store.Failure("insert message", err)
	}
	_, err = s.update("insert message", func(tx *bbolt.Tx) error {
		rows, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.MailboxID))
		if err != nil {
			return err
		}
		return rows.Put(uidKey(msg.UID), data)
	})
	return err
}

// GetMessage returns the full row.
func (s *Store) GetMessage(_ context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	var msg *store.Message
	err := s.view("get message", func(tx *bbolt.Tx) error {
		rows := messageBucket(tx, id)
		if rows == nil {
			return store.ErrNotFound
		}
		data := rows.Get(uidKey(uid))
		if data == nil {
			return store.ErrNotFound
		}
		var err error
		msg, err = decodeMessage(id, uid, data)
		return err
	})
	return msg, err
}

// SwapFlags writes flags and modSeq if the stored version equals expectedVersion.
func (s *Store) SwapFlags(_ context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	return s.update("swap flags", func(tx *bbolt.Tx) error {
		rows := messageBucket(tx, id)
		if rows == nil {
			return errNotApplied
		}
		key := uidKey(uid)
		data := rows.Get(key)
		if data == nil {
			return errNotApplied
		}
		msg, err := decodeMessage(id, uid, data)
		if err != nil {
			return err
		}
		if msg.Version != expectedVersion {
			return errNotApplied
		}
		msg.Flags = flags.Clone()
		msg.ModSeq = modSeq
		msg.Version++
		if data, err = encodeMessage(msg); err != nil {
			return err
		}
		return rows.Put(key, data)
	})
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(_ context.Context, id store.MailboxID, uid store.UID) error {
	applied, err := s.update("delete message", func(tx *bbolt.Tx) error {
		rows := messageBucket(tx, id)
		if rows == nil || rows.Get(uidKey(uid)) == nil {
			return errNotApplied
		}
		return rows.Delete(uidKey(uid))
	})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMessageIf removes the row if its version equals expectedVersion.
func (s *Store) DeleteMessageIf(_ context.Context, id store.MailboxID, uid store.UID, expectedVersion int64) (bool, error) {
	return s.update("delete message", func(tx *bbolt.Tx) error {
		rows := messageBucket(tx, id)
		if rows == nil {
			return errNotApplied
		}
		data := rows.Get(uidKey(uid))
		if data == nil {
			return errNotApplied
		}
		msg, err := decodeMessage(id, uid, data)
		if err != nil {
			return err
		}
		if msg.Version != expectedVersion {
			return errNotApplied
		}
		return rows.Delete(uidKey(uid))
	})
}

// ScanMessages returns the rows in rng by ascending UID.
func (s *Store) ScanMessages(_ context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	if rng.Empty() {
		if err := s.checkConnected(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	lo, hi := rng.Bounds()
	var result []*store.Message
	err := s.view("scan messages", func(tx *bbolt.Tx) error {
		rows := messageBucket(tx, id)
		if rows == nil {
			return nil
		}
		c := rows.Cursor()
		for k, v := c.Seek(uidKey(lo)); k != nil; k, v = c.Next() {
			uid := store.UID(binary.BigEndian.Uint64(k))
			if uid > hi {
				break
			}
			msg, err := decodeMessage(id, uid, v)
			if err != nil {
				return err
			}
			if fetch == store.FetchMetadata {
				msg.Content = nil
			}
			result = append(result, msg)
			if limit > 0 && len(result) == limit {
				break
			}
		}
		return nil
	})
	return result, err
}
