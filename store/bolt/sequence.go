package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/rbaliyan/imapstore/store"
)

func sequenceKey(kind store.SequenceKind, id store.MailboxID) []byte {
	return []byte(kind.String() + "/" + string(id))
}

// LoadSequence returns the last issued value.
func (s *Store) LoadSequence(_ context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	var (
		v     uint64
		found bool
	)
	err := s.view("load sequence", func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSequences).Get(sequenceKey(kind, id))
		if data != nil {
			v, found = binary.BigEndian.Uint64(data), true
		}
		return nil
	})
	return v, found, err
}

// InsertSequence creates the row if absent.
func (s *Store) InsertSequence(_ context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	return s.update("insert sequence", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		key := sequenceKey(kind, id)
		if b.Get(key) != nil {
			return errNotApplied
		}
		return b.Put(key, binary.BigEndian.AppendUint64(nil, value))
	})
}

// SwapSequence sets the row to newValue if it holds oldValue.
func (s *Store) SwapSequence(_ context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	return s.update("swap sequence", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		key := sequenceKey(kind, id)
		data := b.Get(key)
		if data == nil || binary.BigEndian.Uint64(data) != oldValue {
			return errNotApplied
		}
		return b.Put(key, binary.BigEndian.AppendUint64(nil, newValue))
	})
}

type countersRecord struct {
	Count  int64 `json:"count"`
	Unseen int64 `json:"unseen"`
}

// AddCounters applies delta to the mailbox counters.
func (s *Store) AddCounters(_ context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if delta.IsZero() {
		return s.checkConnected()
	}
	_, err := s.update("add counters", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCounters)
		var rec countersRecord
		if data := b.Get([]byte(id)); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
		}
		rec.Count += delta.Count
		rec.Unseen += delta.Unseen
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	return err
}

// LoadCounters returns the mailbox counters.
func (s *Store) LoadCounters(_ context.Context, id store.MailboxID) (store.MailboxCounters, error) {
	var rec countersRecord
	err := s.view("load counters", func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCounters).Get([]byte(id))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return store.MailboxCounters{}, err
	}
	return store.MailboxCounters{Count: rec.Count, Unseen: rec.Unseen}, nil
}
