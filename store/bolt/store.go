// Package bolt provides a single-file embedded store.Backend on bbolt.
//
// bbolt serializes writers, so every conditional write is one Update
// transaction that reads the row and writes it back. Message rows of a
// mailbox live in a nested bucket keyed by the big-endian UID, which makes
// cursor order equal UID order.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.etcd.io/bbolt"

	"github.com/rbaliyan/imapstore/store"
)

var (
	bucketMailboxes     = []byte("mailboxes")
	bucketPaths         = []byte("paths")
	bucketMessages      = []byte("messages")
	bucketSequences     = []byte("sequences")
	bucketCounters      = []byte("counters")
	bucketSubscriptions = []byte("subscriptions")
)

// errNotApplied aborts an Update whose condition did not hold.
var errNotApplied = errors.New("bolt: condition not met")

// Store implements store.Backend on a bbolt file.
type Store struct {
	path      string
	opts      *options
	logger    *slog.Logger
	mu        sync.Mutex // guards db across Connect and Close
	db        *bbolt.DB
	connected int32
}

// Compile-time checks.
var (
	_ store.Backend           = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
)

// New creates a store backed by the file at path. Connect opens it.
func New(path string, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{path: path, opts: o, logger: o.logger}
}

// Connect opens the database file and creates the buckets.
func (s *Store) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{
		Timeout: s.opts.openTimeout,
		NoSync:  s.opts.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketMailboxes, bucketPaths, bucketMessages,
			bucketSequences, bucketCounters, bucketSubscriptions,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("opened bolt store", "path", s.path)
	return nil
}

// Close closes the database file.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return s.db.Close()
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) view(op string, fn func(tx *bbolt.Tx) error) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	return store.Failure(op, s.db.View(fn))
}

// update runs fn in a write transaction. It reports false, without error,
// when fn returned errNotApplied.
func (s *Store) update(op string, fn func(tx *bbolt.Tx) error) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	err := s.db.Update(fn)
	if errors.Is(err, errNotApplied) {
		return false, nil
	}
	if err != nil {
		return false, store.Failure(op, err)
	}
	return true, nil
}

func uidKey(uid store.UID) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(uid))
	return k
}

// =============================================================================
// Mailbox Operations
// =============================================================================

type mailboxRecord struct {
	Namespace   string `json:"namespace"`
	User        string `json:"user"`
	Name        string `json:"name"`
	UIDValidity uint32 `json:"uid_validity"`
}

func decodeMailbox(id store.MailboxID, data []byte) (*store.Mailbox, error) {
	var rec mailboxRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &store.Mailbox{
		ID:          id,
		Path:        store.NewPath(rec.Namespace, rec.User, rec.Name),
		UIDValidity: rec.UIDValidity,
	}, nil
}

// GetMailbox returns the mailbox with the given ID.
func (s *Store) GetMailbox(_ context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if id == "" {
		return nil, store.ErrInvalidID
	}
	var mb *store.Mailbox
	err := s.view("get mailbox", func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMailboxes).Get([]byte(id))
		if data == nil {
			return store.ErrNotFound
		}
		var err error
		mb, err = decodeMailbox(id, data)
		return err
	})
	return mb, err
}

// GetMailboxByPath returns the mailbox at path.
func (s *Store) GetMailboxByPath(_ context.Context, path store.Path) (*store.Mailbox, error) {
	var mb *store.Mailbox
	err := s.view("get mailbox by path", func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketPaths).Get([]byte(path.Key()))
		if id == nil {
			return store.ErrNotFound
		}
		data := tx.Bucket(bucketMailboxes).Get(id)
		if data == nil {
			return store.ErrNotFound
		}
		var err error
		mb, err = decodeMailbox(store.MailboxID(id), data)
		return err
	})
	return mb, err
}

// ListMailboxes returns the mailboxes matching filter.
func (s *Store) ListMailboxes(_ context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	var result []*store.Mailbox
	err := s.view("list mailboxes", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMailboxes).ForEach(func(k, v []byte) error {
			mb, err := decodeMailbox(store.MailboxID(k), v)
			if err != nil {
				return err
			}
			if filter.Match(mb.Path) {
				result = append(result, mb)
			}
			return nil
		})
	})
	return result, err
}

// PutMailbox inserts or replaces a mailbox keyed by ID.
func (s *Store) PutMailbox(_ context.Context, mailbox *store.Mailbox) error {
	if mailbox == nil || mailbox.ID == "" {
		return store.ErrInvalidID
	}
	data, err := json.Marshal(mailboxRecord{
		Namespace:   mailbox.Path.Namespace,
		User:        mailbox.Path.User,
		Name:        mailbox.Path.Name,
		UIDValidity: mailbox.UIDValidity,
	})
	if err != nil {
		return store.Failure("put mailbox", err)
	}

	id := []byte(mailbox.ID)
	pathKey := []byte(mailbox.Path.Key())
	applied, err := s.update("put mailbox", func(tx *bbolt.Tx) error {
		mailboxes, paths := tx.Bucket(bucketMailboxes), tx.Bucket(bucketPaths)
		if holder := paths.Get(pathKey); holder != nil && string(holder) != string(id) {
			return errNotApplied
		}
		if prev := mailboxes.Get(id); prev != nil {
			old, err := decodeMailbox(mailbox.ID, prev)
			if err != nil {
				return err
			}
			if old.Path != mailbox.Path {
				if err := paths.Delete([]byte(old.Path.Key())); err != nil {
					return err
				}
			}
		}
		if err := mailboxes.Put(id, data); err != nil {
			return err
		}
		return paths.Put(pathKey, id)
	})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrDuplicateEntry
	}
	return nil
}

// DeleteMailbox removes a mailbox and everything it owns in one transaction.
func (s *Store) DeleteMailbox(_ context.Context, id store.MailboxID) error {
	if id == "" {
		return store.ErrInvalidID
	}
	_, err := s.update("delete mailbox", func(tx *bbolt.Tx) error {
		mailboxes := tx.Bucket(bucketMailboxes)
		if data := mailboxes.Get([]byte(id)); data != nil {
			mb, err := decodeMailbox(id, data)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketPaths).Delete([]byte(mb.Path.Key())); err != nil {
				return err
			}
			if err := mailboxes.Delete([]byte(id)); err != nil {
				return err
			}
		}
		messages := tx.Bucket(bucketMessages)
		if messages.Bucket([]byte(id)) != nil {
			if err := messages.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		sequences := tx.Bucket(bucketSequences)
		for _, kind := range []store.SequenceKind{store.SequenceUID, store.SequenceModSeq} {
			if err := sequences.Delete(sequenceKey(kind, id)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketCounters).Delete([]byte(id))
	})
	return err
}
