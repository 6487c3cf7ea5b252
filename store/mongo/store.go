// Package mongo provides a MongoDB implementation of store.Backend.
//
// Conditional writes are UpdateOne calls whose filter includes the expected
// value; a matched count of one means the write was applied. Counters use
// upserted $inc updates.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/imapstore/store"
)

// Store implements store.Backend using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	mailboxes *mongo.Collection
	messages  *mongo.Collection
	sequences *mongo.Collection
	counters  *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	prefix := s.opts.collectionPrefix
	s.mailboxes = s.db.Collection(prefix + "mailboxes")
	s.messages = s.db.Collection(prefix + "messages")
	s.sequences = s.db.Collection(prefix + "sequences")
	s.counters = s.db.Collection(prefix + "counters")

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	s.logger.Info("connected to MongoDB", "database", s.opts.database)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
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

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	// One mailbox per path; PutMailbox relies on this for ErrDuplicateEntry.
	_, err := s.mailboxes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			bson.E{Key: "namespace", Value: 1},
			bson.E{Key: "user", Value: 1},
			bson.E{Key: "name", Value: 1},
		},
		Options: mongoopts.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	// Ordered UID scans per mailbox.
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			bson.E{Key: "mailbox_id", Value: 1},
			bson.E{Key: "uid", Value: 1},
		},
		Options: mongoopts.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.sequences.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{bson.E{Key: "mailbox_id", Value: 1}},
	})
	return err
}

// =============================================================================
// Mailbox Operations
// =============================================================================

type mailboxDoc struct {
	ID          string `bson:"_id"`
	Namespace   string `bson:"namespace"`
	User        string `bson:"user"`
	Name        string `bson:"name"`
	UIDValidity int64  `bson:"uid_validity"`
}

func (d *mailboxDoc) toMailbox() *store.Mailbox {
	return &store.Mailbox{
		ID:          store.MailboxID(d.ID),
		Path:        store.NewPath(d.Namespace, d.User, d.Name),
		UIDValidity: uint32(d.UIDValidity),
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
	return s.findMailbox(ctx, bson.M{"_id": string(id)}, "get mailbox")
}

// GetMailboxByPath returns the mailbox at path.
func (s *Store) GetMailboxByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	filter := bson.M{"namespace": path.Namespace, "user": path.User, "name": path.Name}
	return s.findMailbox(ctx, filter, "get mailbox by path")
}

func (s *Store) findMailbox(ctx context.Context, filter bson.M, op string) (*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc mailboxDoc
	err := s.mailboxes.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure(op, err)
	}
	return doc.toMailbox(), nil
}

// ListMailboxes returns the mailboxes matching filter.
func (s *Store) ListMailboxes(ctx context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := bson.M{}
	if filter != nil {
		query = bson.M{"namespace": filter.Namespace, "user": filter.User}
	}
	cursor, err := s.mailboxes.Find(ctx, query)
	if err != nil {
		return nil, store.Failure("list mailboxes", err)
	}
	var docs []mailboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Failure("list mailboxes", err)
	}

	result := make([]*store.Mailbox, len(docs))
	for i := range docs {
		result[i] = docs[i].toMailbox()
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

	doc := mailboxDoc{
		ID:          string(mailbox.ID),
		Namespace:   mailbox.Path.Namespace,
		User:        mailbox.Path.User,
		Name:        mailbox.Path.Name,
		UIDValidity: int64(mailbox.UIDValidity),
	}
	_, err := s.mailboxes.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, mongoopts.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateEntry
	}
	if err != nil {
		return store.Failure("put mailbox", err)
	}
	return nil
}

// DeleteMailbox removes a mailbox and everything it owns.
// Each collection is cleaned independently; a failure part way leaves
// orphaned rows that a repeated delete removes.
func (s *Store) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.mailboxes.DeleteOne(ctx, bson.M{"_id": string(id)}); err != nil {
		return store.Failure("delete mailbox", err)
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"mailbox_id": string(id)}); err != nil {
		return store.Failure("delete mailbox messages", err)
	}
	if _, err := s.sequences.DeleteMany(ctx, bson.M{"mailbox_id": string(id)}); err != nil {
		return store.Failure("delete mailbox sequences", err)
	}
	if _, err := s.counters.DeleteOne(ctx, bson.M{"_id": string(id)}); err != nil {
		return store.Failure("delete mailbox counters", err)
	}
	return nil
}
