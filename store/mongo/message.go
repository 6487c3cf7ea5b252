package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/imapstore/store"
)

// messageDoc is the MongoDB document representation of a message row.
// UIDs and ModSeqs are stored as int64, which bounds them to 2^63-1.
type messageDoc struct {
	ID           string    `bson:"_id"`
	MailboxID    string    `bson:"mailbox_id"`
	UID          int64     `bson:"uid"`
	ModSeq       int64     `bson:"modseq"`
	System       int32     `bson:"system_flags"`
	Keywords     []string  `bson:"keywords,omitempty"`
	Version      int64     `bson:"version"`
	InternalDate time.Time `bson:"internal_date"`
	Size         int64     `bson:"size"`
	Content      []byte    `bson:"content,omitempty"`
}

func messageDocID(id store.MailboxID, uid store.UID) string {
	return fmt.Sprintf("%s/%d", id, uid)
}

func newMessageDoc(msg *store.Message) *messageDoc {
	return &messageDoc{
		ID:           messageDocID(msg.MailboxID, msg.UID),
		MailboxID:    string(msg.MailboxID),
		UID:          int64(msg.UID),
		ModSeq:       int64(msg.ModSeq),
		System:       int32(msg.Flags.System),
		Keywords:     msg.Flags.User,
		Version:      msg.Version,
		InternalDate: msg.InternalDate.UTC(),
		Size:         msg.Size,
		Content:      msg.Content,
	}
}

func (d *messageDoc) toMessage() *store.Message {
	return &store.Message{
		MailboxID:    store.MailboxID(d.MailboxID),
		UID:          store.UID(d.UID),
		ModSeq:       store.ModSeq(d.ModSeq),
		Flags:        store.NewFlags(store.SystemFlag(d.System), d.Keywords...),
		Version:      d.Version,
		InternalDate: d.InternalDate,
		Size:         d.Size,
		Content:      d.Content,
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

	doc := newMessageDoc(msg)
	_, err := s.messages.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, mongoopts.Replace().SetUpsert(true))
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

	var doc messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": messageDocID(id, uid)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure("get message", err)
	}
	return doc.toMessage(), nil
}

// SwapFlags writes flags and modSeq if the stored version equals expectedVersion.
func (s *Store) SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	filter := bson.M{
		"_id":     messageDocID(id, uid),
		"version": expectedVersion,
	}
	update := bson.M{
		"$set": bson.M{
			"system_flags": int32(flags.System),
			"keywords":     flags.User,
			"modseq":       int64(modSeq),
		},
		"$inc": bson.M{"version": 1},
	}
	result, err := s.messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, store.Failure("swap flags", err)
	}
	return result.MatchedCount == 1, nil
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.messages.DeleteOne(ctx, bson.M{"_id": messageDocID(id, uid)})
	if err != nil {
		return store.Failure("delete message", err)
	}
	if result.DeletedCount == 0 {
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

	result, err := s.messages.DeleteOne(ctx, bson.M{
		"_id":     messageDocID(id, uid),
		"version": expectedVersion,
	})
	if err != nil {
		return false, store.Failure("delete message", err)
	}
	return result.DeletedCount == 1, nil
}

// ScanMessages returns the rows in rng by ascending UID.
func (s *Store) ScanMessages(ctx context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if rng.Empty() {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	lo, hi := rng.Bounds()
	if lo > math.MaxInt64 {
		return nil, nil
	}
	uidFilter := bson.M{"$gte": int64(lo)}
	if hi < math.MaxInt64 {
		uidFilter["$lte"] = int64(hi)
	}
	filter := bson.M{"mailbox_id": string(id), "uid": uidFilter}

	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "uid", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	if fetch == store.FetchMetadata {
		findOpts.SetProjection(bson.M{"content": 0})
	}

	cursor, err := s.messages.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, store.Failure("scan messages", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Failure("scan messages", err)
	}

	result := make([]*store.Message, len(docs))
	for i := range docs {
		result[i] = docs[i].toMessage()
		if fetch == store.FetchMetadata {
			result[i].Content = nil
		}
	}
	return result, nil
}
