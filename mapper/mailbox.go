// Package mapper implements the mailbox, message and subscription mappers
// on top of any store.Backend.
package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbaliyan/imapstore/store"
)

// MailboxMapper implements store.MailboxMapper.
type MailboxMapper struct {
	store  store.MailboxStore
	logger *slog.Logger
}

var _ store.MailboxMapper = (*MailboxMapper)(nil)

// NewMailboxMapper creates a mailbox mapper over s.
func NewMailboxMapper(s store.MailboxStore, opts ...Option) *MailboxMapper {
	o := newOptions(opts...)
	return &MailboxMapper{store: s, logger: o.logger}
}

// FindByPath returns the mailbox at path.
func (m *MailboxMapper) FindByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	return m.store.GetMailboxByPath(ctx, path)
}

// FindByID returns the mailbox with the given ID.
func (m *MailboxMapper) FindByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	return m.store.GetMailbox(ctx, id)
}

// FindWithPathLike returns the owner's mailboxes whose name matches pattern,
// sorted by name.
func (m *MailboxMapper) FindWithPathLike(ctx context.Context, pattern store.Path) ([]*store.Mailbox, error) {
	pp, err := store.NewPathPattern(pattern)
	if err != nil {
		return nil, err
	}
	candidates, err := m.store.ListMailboxes(ctx, pp.Filter())
	if err != nil {
		return nil, err
	}
	result := make([]*store.Mailbox, 0, len(candidates))
	for _, mb := range candidates {
		if pp.Match(mb.Path) {
			result = append(result, mb)
		}
	}
	sortByName(result)
	return result, nil
}

// Save inserts or upserts the mailbox. A new mailbox gets a time-ordered
// ID and, when unset, a UIDValidity derived from the current time.
func (m *MailboxMapper) Save(ctx context.Context, mailbox *store.Mailbox) error {
	if mailbox == nil {
		return store.ErrInvalidID
	}
	created := false
	if mailbox.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate mailbox id: %w", err)
		}
		mailbox.ID = store.MailboxID(id.String())
		created = true
	}
	if mailbox.UIDValidity == 0 {
		mailbox.UIDValidity = uint32(time.Now().Unix())
	}
	if err := m.store.PutMailbox(ctx, mailbox); err != nil {
		if created {
			mailbox.ID = ""
		}
		return err
	}
	if created {
		m.logger.Debug("mailbox created", "mailbox_id", mailbox.ID, "path", mailbox.Path.String())
	}
	return nil
}

// Delete removes the mailbox with its messages, counters and sequences.
func (m *MailboxMapper) Delete(ctx context.Context, mailbox *store.Mailbox) error {
	if mailbox == nil || mailbox.ID == "" {
		return store.ErrInvalidID
	}
	return m.store.DeleteMailbox(ctx, mailbox.ID)
}

// HasChildren reports whether a mailbox of the same owner is named
// mailbox.Name + delimiter + something.
func (m *MailboxMapper) HasChildren(ctx context.Context, mailbox *store.Mailbox, delimiter rune) (bool, error) {
	siblings, err := m.store.ListMailboxes(ctx, mailbox.Path.Owner())
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(siblings, func(other *store.Mailbox) bool {
		return other.ID != mailbox.ID && other.Path.IsChildOf(mailbox.Path, delimiter)
	}), nil
}

// List returns every mailbox.
func (m *MailboxMapper) List(ctx context.Context) ([]*store.Mailbox, error) {
	list, err := m.store.ListMailboxes(ctx, nil)
	if err != nil {
		return nil, err
	}
	sortByName(list)
	return list, nil
}

func sortByName(list []*store.Mailbox) {
	slices.SortFunc(list, func(a, b *store.Mailbox) int {
		return strings.Compare(a.Path.String(), b.Path.String())
	})
}
