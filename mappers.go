package imapstore

import (
	"context"
	"iter"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rbaliyan/imapstore/store"
)

// mailboxes guards the mailbox mapper with the service state and
// publishes MailboxDeleted.
type mailboxes struct {
	s    *service
	next store.MailboxMapper
}

var _ store.MailboxMapper = (*mailboxes)(nil)

func (m *mailboxes) FindByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	return m.next.FindByPath(ctx, path)
}

func (m *mailboxes) FindByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	return m.next.FindByID(ctx, id)
}

func (m *mailboxes) FindWithPathLike(ctx context.Context, pattern store.Path) ([]*store.Mailbox, error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	return m.next.FindWithPathLike(ctx, pattern)
}

func (m *mailboxes) Save(ctx context.Context, mailbox *store.Mailbox) (err error) {
	if err := m.s.checkConnected(); err != nil {
		return err
	}
	if mailbox == nil {
		return store.ErrInvalidID
	}
	ctx, span := m.s.otel.startSpan(ctx, "mailbox.save", attribute.String("mailbox.path", mailbox.Path.String()))
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "mailbox.save", start, err) }()

	return m.next.Save(ctx, mailbox)
}

func (m *mailboxes) Delete(ctx context.Context, mailbox *store.Mailbox) (err error) {
	if err := m.s.checkConnected(); err != nil {
		return err
	}
	if mailbox == nil {
		return store.ErrInvalidID
	}
	ctx, span := m.s.otel.startSpan(ctx, "mailbox.delete", attribute.String("mailbox.id", string(mailbox.ID)))
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "mailbox.delete", start, err) }()

	if err := m.next.Delete(ctx, mailbox); err != nil {
		return err
	}
	events := m.s.events.Load()
	if events == nil {
		return nil
	}
	return publish(ctx, m.s, "MailboxDeleted", events.MailboxDeleted, MailboxDeletedEvent{
		MailboxID: string(mailbox.ID),
		Path:      mailbox.Path.String(),
		DeletedAt: time.Now().UTC(),
	})
}

func (m *mailboxes) HasChildren(ctx context.Context, mailbox *store.Mailbox, delimiter rune) (bool, error) {
	if err := m.s.checkConnected(); err != nil {
		return false, err
	}
	return m.next.HasChildren(ctx, mailbox, delimiter)
}

func (m *mailboxes) List(ctx context.Context) ([]*store.Mailbox, error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	return m.next.List(ctx)
}

// messages guards the message mapper with the service state, instruments
// the writes and publishes their events.
type messages struct {
	s    *service
	next store.MessageMapper
}

var _ store.MessageMapper = (*messages)(nil)

func (m *messages) CountMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	if err := m.s.checkConnected(); err != nil {
		return 0, err
	}
	return m.next.CountMessages(ctx, mailbox)
}

func (m *messages) CountUnseen(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	if err := m.s.checkConnected(); err != nil {
		return 0, err
	}
	return m.next.CountUnseen(ctx, mailbox)
}

func (m *messages) FindInRange(ctx context.Context, mailbox *store.Mailbox, rng store.MessageRange, fetch store.FetchType, limit int) iter.Seq2[*store.Message, error] {
	if err := m.s.checkConnected(); err != nil {
		return func(yield func(*store.Message, error) bool) {
			yield(nil, err)
		}
	}
	return m.next.FindInRange(ctx, mailbox, rng, fetch, limit)
}

func (m *messages) FindRecentUIDs(ctx context.Context, mailbox *store.Mailbox) ([]store.UID, error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	return m.next.FindRecentUIDs(ctx, mailbox)
}

func (m *messages) FindFirstUnseenUID(ctx context.Context, mailbox *store.Mailbox) (store.UID, bool, error) {
	if err := m.s.checkConnected(); err != nil {
		return 0, false, err
	}
	return m.next.FindFirstUnseenUID(ctx, mailbox)
}

func (m *messages) Add(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (md store.MessageMetaData, err error) {
	if err := m.s.checkConnected(); err != nil {
		return store.MessageMetaData{}, err
	}
	ctx, span := m.s.otel.startSpan(ctx, "message.add", attribute.String("mailbox.id", string(mailbox.ID)))
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "message.add", start, err) }()

	if err := ValidateMessage(msg, m.s.opts.limits); err != nil {
		return store.MessageMetaData{}, err
	}
	md, err = m.next.Add(ctx, mailbox, msg)
	if err != nil {
		return md, err
	}
	return md, m.publishAdded(ctx, mailbox, md, false)
}

func (m *messages) Copy(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (md store.MessageMetaData, err error) {
	if err := m.s.checkConnected(); err != nil {
		return store.MessageMetaData{}, err
	}
	ctx, span := m.s.otel.startSpan(ctx, "message.copy", attribute.String("mailbox.id", string(mailbox.ID)))
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "message.copy", start, err) }()

	if err := ValidateMessage(msg, m.s.opts.limits); err != nil {
		return store.MessageMetaData{}, err
	}
	md, err = m.next.Copy(ctx, mailbox, msg)
	if err != nil {
		return md, err
	}
	return md, m.publishAdded(ctx, mailbox, md, true)
}

func (m *messages) publishAdded(ctx context.Context, mailbox *store.Mailbox, md store.MessageMetaData, copied bool) error {
	events := m.s.events.Load()
	if events == nil {
		return nil
	}
	return publish(ctx, m.s, "MessageAdded", events.MessageAdded, MessageAddedEvent{
		MailboxID: string(mailbox.ID),
		UID:       uint64(md.UID),
		ModSeq:    uint64(md.ModSeq),
		Flags:     md.Flags.Names(),
		Copied:    copied,
		AddedAt:   time.Now().UTC(),
	})
}

func (m *messages) Delete(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (err error) {
	if err := m.s.checkConnected(); err != nil {
		return err
	}
	ctx, span := m.s.otel.startSpan(ctx, "message.delete",
		attribute.String("mailbox.id", string(mailbox.ID)),
		attribute.Int64("message.uid", int64(msg.UID)),
	)
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "message.delete", start, err) }()

	if err := m.next.Delete(ctx, mailbox, msg); err != nil {
		return err
	}
	return m.publishExpunged(ctx, mailbox, []uint64{uint64(msg.UID)})
}

func (m *messages) ExpungeDeleted(ctx context.Context, mailbox *store.Mailbox, rng store.MessageRange) (removed map[store.UID]store.MessageMetaData, err error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, span := m.s.otel.startSpan(ctx, "message.expunge",
		attribute.String("mailbox.id", string(mailbox.ID)),
		attribute.String("range", rng.String()),
	)
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "message.expunge", start, err) }()

	removed, err = m.next.ExpungeDeleted(ctx, mailbox, rng)
	if len(removed) == 0 {
		return removed, err
	}
	uids := make([]uint64, 0, len(removed))
	for uid := range removed {
		uids = append(uids, uint64(uid))
	}
	slices.Sort(uids)
	if pubErr := m.publishExpunged(ctx, mailbox, uids); err == nil {
		err = pubErr
	}
	return removed, err
}

func (m *messages) publishExpunged(ctx context.Context, mailbox *store.Mailbox, uids []uint64) error {
	events := m.s.events.Load()
	if events == nil {
		return nil
	}
	return publish(ctx, m.s, "MessagesExpunged", events.MessagesExpunged, MessagesExpungedEvent{
		MailboxID:  string(mailbox.ID),
		UIDs:       uids,
		ExpungedAt: time.Now().UTC(),
	})
}

func (m *messages) UpdateFlags(ctx context.Context, mailbox *store.Mailbox, rng store.MessageRange, update store.FlagUpdate) (updated []store.UpdatedFlags, err error) {
	if err := m.s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, span := m.s.otel.startSpan(ctx, "message.update_flags",
		attribute.String("mailbox.id", string(mailbox.ID)),
		attribute.String("range", rng.String()),
		attribute.String("flags.mode", update.Mode.String()),
	)
	start := time.Now()
	defer func() { m.s.otel.end(ctx, span, "message.update_flags", start, err) }()

	if err := ValidateFlags(update.Flags, m.s.opts.limits); err != nil {
		return nil, err
	}
	// Updates applied before a failure are still reported and published.
	updated, err = m.next.UpdateFlags(ctx, mailbox, rng, update)
	m.s.otel.recordFlagChanges(ctx, len(updated))

	events := m.s.events.Load()
	if events == nil {
		return updated, err
	}
	now := time.Now().UTC()
	for _, u := range updated {
		pubErr := publish(ctx, m.s, "FlagsUpdated", events.FlagsUpdated, FlagsUpdatedEvent{
			MailboxID: string(mailbox.ID),
			UID:       uint64(u.UID),
			ModSeq:    uint64(u.ModSeq),
			OldFlags:  u.OldFlags.Names(),
			NewFlags:  u.NewFlags.Names(),
			UpdatedAt: now,
		})
		if pubErr != nil && err == nil {
			err = pubErr
		}
	}
	return updated, err
}

func (m *messages) LastUID(ctx context.Context, mailbox *store.Mailbox) (store.UID, error) {
	if err := m.s.checkConnected(); err != nil {
		return 0, err
	}
	return m.next.LastUID(ctx, mailbox)
}

func (m *messages) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (store.ModSeq, error) {
	if err := m.s.checkConnected(); err != nil {
		return 0, err
	}
	return m.next.HighestModSeq(ctx, mailbox)
}
