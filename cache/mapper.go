package cache

import (
	"context"

	"github.com/rbaliyan/imapstore/store"
)

// MailboxMapper decorates a store.MailboxMapper with a PathCache and a
// MetadataCache. Lookups by path and by ID are cached; Save and Delete
// invalidate after the wrapped call succeeds and leave the cache alone
// when it fails.
type MailboxMapper struct {
	next     store.MailboxMapper
	paths    *PathCache
	metadata *MetadataCache
}

var _ store.MailboxMapper = (*MailboxMapper)(nil)

// NewMailboxMapper wraps next.
func NewMailboxMapper(next store.MailboxMapper, opts ...Option) *MailboxMapper {
	return &MailboxMapper{
		next:     next,
		paths:    NewPathCache(opts...),
		metadata: NewMetadataCache(opts...),
	}
}

// Paths returns the path cache.
func (m *MailboxMapper) Paths() *PathCache {
	return m.paths
}

// Metadata returns the metadata cache.
func (m *MailboxMapper) Metadata() *MetadataCache {
	return m.metadata
}

func (m *MailboxMapper) FindByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	return m.paths.Get(ctx, path, func(ctx context.Context) (*store.Mailbox, error) {
		return m.next.FindByPath(ctx, path)
	})
}

func (m *MailboxMapper) FindByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	return m.paths.GetByID(ctx, id, func(ctx context.Context) (*store.Mailbox, error) {
		return m.next.FindByID(ctx, id)
	})
}

func (m *MailboxMapper) FindWithPathLike(ctx context.Context, pattern store.Path) ([]*store.Mailbox, error) {
	return m.next.FindWithPathLike(ctx, pattern)
}

func (m *MailboxMapper) Save(ctx context.Context, mailbox *store.Mailbox) error {
	if err := m.next.Save(ctx, mailbox); err != nil {
		return err
	}
	m.Invalidate(mailbox)
	return nil
}

func (m *MailboxMapper) Delete(ctx context.Context, mailbox *store.Mailbox) error {
	if err := m.next.Delete(ctx, mailbox); err != nil {
		return err
	}
	m.Invalidate(mailbox)
	return nil
}

func (m *MailboxMapper) HasChildren(ctx context.Context, mailbox *store.Mailbox, delimiter rune) (bool, error) {
	return m.next.HasChildren(ctx, mailbox, delimiter)
}

func (m *MailboxMapper) List(ctx context.Context) ([]*store.Mailbox, error) {
	return m.next.List(ctx)
}

// Invalidate drops every cached entry derived from the mailbox, metadata
// included. It is the hook for collaborators that change mailbox state
// outside this mapper.
func (m *MailboxMapper) Invalidate(mailbox *store.Mailbox) {
	if mailbox == nil {
		return
	}
	m.paths.Invalidate(mailbox)
	if mailbox.ID != "" {
		m.metadata.InvalidateMailbox(mailbox.ID)
	}
}

// InvalidatePath drops the cached entry for path.
func (m *MailboxMapper) InvalidatePath(path store.Path) {
	m.paths.InvalidatePath(path)
}
