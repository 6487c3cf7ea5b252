package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/imapstore/store"
)

// sequenceDoc is one allocator row. Values are stored as int64.
type sequenceDoc struct {
	ID        string `bson:"_id"`
	MailboxID string `bson:"mailbox_id"`
	Value     int64  `bson:"value"`
}

func sequenceDocID(kind store.SequenceKind, id store.MailboxID) string {
	return kind.String() + "/" + string(id)
}

// LoadSequence returns the last issued value.
func (s *Store) LoadSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc sequenceDoc
	err := s.sequences.FindOne(ctx, bson.M{"_id": sequenceDocID(kind, id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Failure("load sequence", err)
	}
	return uint64(doc.Value), true, nil
}

// InsertSequence creates the row if absent. The unique _id makes the
// insert conditional.
func (s *Store) InsertSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	doc := sequenceDoc{ID: sequenceDocID(kind, id), MailboxID: string(id), Value: int64(value)}
	_, err := s.sequences.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, store.Failure("insert sequence", err)
	}
	return true, nil
}

// SwapSequence sets the row to newValue if it holds oldValue.
func (s *Store) SwapSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"_id": sequenceDocID(kind, id), "value": int64(oldValue)}
	update := bson.M{"$set": bson.M{"value": int64(newValue)}}
	result, err := s.sequences.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, store.Failure("swap sequence", err)
	}
	return result.MatchedCount == 1, nil
}

type countersDoc struct {
	ID     string `bson:"_id"`
	Count  int64  `bson:"count"`
	Unseen int64  `bson:"unseen"`
}

// AddCounters applies delta with an upserted $inc.
func (s *Store) AddCounters(ctx context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{"_id": string(id)}
	update := bson.M{"$inc": bson.M{"count": delta.Count, "unseen": delta.Unseen}}
	upsert := mongoopts.UpdateOne().SetUpsert(true)
	_, err := s.counters.UpdateOne(ctx, filter, update, upsert)
	if mongo.IsDuplicateKeyError(err) {
		// Two upserts raced to create the document; the loser now matches it.
		_, err = s.counters.UpdateOne(ctx, filter, update, upsert)
	}
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

	var doc countersDoc
	err := s.counters.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.MailboxCounters{}, nil
	}
	if err != nil {
		return store.MailboxCounters{}, store.Failure("load counters", err)
	}
	return store.MailboxCounters{Count: doc.Count, Unseen: doc.Unseen}, nil
}
