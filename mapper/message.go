package mapper

import (
	"context"
	"iter"
	"log/slog"

	"github.com/rbaliyan/imapstore/counters"
	"github.com/rbaliyan/imapstore/flagupdate"
	"github.com/rbaliyan/imapstore/retry"
	"github.com/rbaliyan/imapstore/sequence"
	"github.com/rbaliyan/imapstore/store"
)

// MessageBackend is the part of a store.Backend the message mapper needs.
type MessageBackend interface {
	store.MessageStore
	store.SequenceStore
	store.CounterStore
}

// MessageMapper implements store.MessageMapper.
//
// Add and Copy allocate a UID and then a ModSeq before writing the row.
// UpdateFlags runs the flagupdate resolver over the range. Counters are
// updated after each row write with independent increments.
type MessageMapper struct {
	messages      store.MessageStore
	uids          *sequence.Allocator[store.UID]
	modSeqs       *sequence.Allocator[store.ModSeq]
	counters      *counters.Tracker
	resolver      *flagupdate.Resolver
	batchSize     int
	deleteRetries int
	logger        *slog.Logger
}

var _ store.MessageMapper = (*MessageMapper)(nil)

// NewMessageMapper creates a message mapper over b.
func NewMessageMapper(b MessageBackend, opts ...Option) *MessageMapper {
	o := newOptions(opts...)
	modSeqs := sequence.NewModSeq(b,
		sequence.WithLogger(o.logger),
		sequence.WithMaxRetries(o.modSeqMaxRetries),
	)
	tracker := counters.New(b, counters.WithLogger(o.logger))
	return &MessageMapper{
		messages: b,
		uids: sequence.NewUID(b,
			sequence.WithLogger(o.logger),
			sequence.WithMaxRetries(o.uidMaxRetries),
		),
		modSeqs:  modSeqs,
		counters: tracker,
		resolver: flagupdate.New(b, modSeqs, tracker,
			flagupdate.WithLogger(o.logger),
			flagupdate.WithMaxRetries(o.flagUpdateRetries),
		),
		batchSize:     o.scanBatchSize,
		deleteRetries: o.flagUpdateRetries,
		logger:        o.logger,
	}
}

// CountMessages returns the message count of the mailbox.
func (m *MessageMapper) CountMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	return m.counters.Count(ctx, mailbox.ID)
}

// CountUnseen returns the number of messages without SEEN.
func (m *MessageMapper) CountUnseen(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	return m.counters.Unseen(ctx, mailbox.ID)
}

// FindInRange lazily yields the messages of rng in ascending UID order,
// fetching them from the backend one batch at a time until a batch comes
// back empty.
func (m *MessageMapper) FindInRange(ctx context.Context, mailbox *store.Mailbox, rng store.MessageRange, fetch store.FetchType, limit int) iter.Seq2[*store.Message, error] {
	return func(yield func(*store.Message, error) bool) {
		if rng.Empty() {
			return
		}
		remaining := limit
		for {
			batch := m.batchSize
			if limit > 0 && remaining < batch {
				batch = remaining
			}
			msgs, err := m.messages.ScanMessages(ctx, mailbox.ID, rng, fetch, batch)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, msg := range msgs {
				if !yield(msg, nil) {
					return
				}
			}
			if limit > 0 {
				remaining -= len(msgs)
				if remaining <= 0 {
					return
				}
			}
			// A short batch does not end the range: rows may vanish
			// between a backend's index and row reads.
			if len(msgs) == 0 {
				return
			}
			next, ok := rng.After(msgs[len(msgs)-1].UID)
			if !ok {
				return
			}
			rng = next
		}
	}
}

// FindRecentUIDs returns the sorted UIDs of RECENT messages.
func (m *MessageMapper) FindRecentUIDs(ctx context.Context, mailbox *store.Mailbox) ([]store.UID, error) {
	var uids []store.UID
	for msg, err := range m.FindInRange(ctx, mailbox, store.AllMessages(), store.FetchMetadata, 0) {
		if err != nil {
			return nil, err
		}
		if msg.Flags.Has(store.FlagRecent) {
			uids = append(uids, msg.UID)
		}
	}
	return uids, nil
}

// FindFirstUnseenUID returns the lowest UID without SEEN.
func (m *MessageMapper) FindFirstUnseenUID(ctx context.Context, mailbox *store.Mailbox) (store.UID, bool, error) {
	for msg, err := range m.FindInRange(ctx, mailbox, store.AllMessages(), store.FetchMetadata, 0) {
		if err != nil {
			return 0, false, err
		}
		if !msg.Flags.Seen() {
			return msg.UID, true, nil
		}
	}
	return 0, false, nil
}

// Add stores msg in mailbox under a newly allocated UID and ModSeq.
func (m *MessageMapper) Add(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (store.MessageMetaData, error) {
	uid, err := m.uids.Next(ctx, mailbox.ID)
	if err != nil {
		return store.MessageMetaData{}, err
	}
	modSeq, err := m.modSeqs.Next(ctx, mailbox.ID)
	if err != nil {
		return store.MessageMetaData{}, err
	}

	msg.MailboxID = mailbox.ID
	msg.UID = uid
	msg.ModSeq = modSeq
	msg.Version = 0
	if msg.Size == 0 {
		msg.Size = int64(len(msg.Content))
	}
	if err := m.messages.InsertMessage(ctx, msg); err != nil {
		return store.MessageMetaData{}, err
	}
	if err := m.counters.Added(ctx, mailbox.ID, msg.Flags); err != nil {
		return msg.MetaData(), err
	}
	return msg.MetaData(), nil
}

// Delete removes msg and updates the counters from the flags it was
// stored with.
func (m *MessageMapper) Delete(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) error {
	_, err := m.remove(ctx, mailbox.ID, msg.UID, nil)
	return err
}

// remove deletes the row conditioned on the version it was read at, so
// the counters are updated from the flags the row had when it went away.
// When cond is set and rejects the current row, nothing is deleted and
// remove returns nil, nil.
func (m *MessageMapper) remove(ctx context.Context, id store.MailboxID, uid store.UID, cond func(*store.Message) bool) (*store.Message, error) {
	var removed *store.Message
	attempts, err := retry.Loop(ctx, retry.DefaultConfig(m.deleteRetries), func(ctx context.Context, _ int) (bool, error) {
		stored, err := m.messages.GetMessage(ctx, id, uid)
		if err != nil {
			return false, err
		}
		if cond != nil && !cond(stored) {
			return true, nil
		}
		applied, err := m.messages.DeleteMessageIf(ctx, id, uid, stored.Version)
		if err != nil {
			return false, err
		}
		if applied {
			removed = stored
		}
		return applied, nil
	})
	if retry.IsExhausted(err) {
		m.logger.Warn("delete exhausted retries", "mailbox_id", id, "uid", uid, "attempts", attempts)
		return nil, &store.RetryError{MailboxID: id, UID: uid, Attempts: attempts}
	}
	if err != nil || removed == nil {
		return nil, err
	}
	return removed, m.counters.Removed(ctx, id, removed.Flags)
}

// ExpungeDeleted removes every DELETED message of rng. Messages removed
// concurrently by someone else, or whose DELETED flag was cleared before
// the delete, are left out of the result.
func (m *MessageMapper) ExpungeDeleted(ctx context.Context, mailbox *store.Mailbox, rng store.MessageRange) (map[store.UID]store.MessageMetaData, error) {
	var candidates []store.UID
	for msg, err := range m.FindInRange(ctx, mailbox, rng, store.FetchMetadata, 0) {
		if err != nil {
			return nil, err
		}
		if msg.Flags.Has(store.FlagDeleted) {
			candidates = append(candidates, msg.UID)
		}
	}

	expunged := make(map[store.UID]store.MessageMetaData, len(candidates))
	for _, uid := range candidates {
		stored, err := m.remove(ctx, mailbox.ID, uid, isDeleted)
		if store.IsNotFound(err) {
			continue
		}
		if stored != nil {
			expunged[uid] = stored.MetaData()
		}
		if err != nil {
			return expunged, err
		}
	}
	if len(expunged) > 0 {
		m.logger.Debug("expunged messages", "mailbox_id", mailbox.ID, "count", len(expunged))
	}
	return expunged, nil
}

func isDeleted(msg *store.Message) bool {
	return msg.Flags.Has(store.FlagDeleted)
}

// Copy stores a copy of msg in mailbox. The copy keeps every flag of the
// original, DELETED included, and gains RECENT. Content is loaded from the
// source row when msg was fetched without it.
func (m *MessageMapper) Copy(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (store.MessageMetaData, error) {
	source := msg
	if msg.Content == nil && msg.Size > 0 {
		full, err := m.messages.GetMessage(ctx, msg.MailboxID, msg.UID)
		if err != nil {
			return store.MessageMetaData{}, err
		}
		source = full
	}
	copied := source.Clone()
	copied.Flags = copied.Flags.With(store.FlagRecent)
	return m.Add(ctx, mailbox, copied)
}

// UpdateFlags applies update to every message in rng. On error the
// updates already applied are returned along with it.
func (m *MessageMapper) UpdateFlags(ctx context.Context, mailbox *store.Mailbox, rng store.MessageRange, update store.FlagUpdate) ([]store.UpdatedFlags, error) {
	return m.resolver.UpdateRange(ctx, m.FindInRange(ctx, mailbox, rng, store.FetchMetadata, 0), update)
}

// LastUID returns the highest allocated UID.
func (m *MessageMapper) LastUID(ctx context.Context, mailbox *store.Mailbox) (store.UID, error) {
	return m.uids.Highest(ctx, mailbox.ID)
}

// HighestModSeq returns the highest allocated ModSeq.
func (m *MessageMapper) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (store.ModSeq, error) {
	return m.modSeqs.Highest(ctx, mailbox.ID)
}
