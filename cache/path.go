// Package cache provides read-through caches in front of a MailboxMapper.
//
// Entries are never updated in place: every mutation removes them, and
// only after the underlying write succeeded. Concurrent misses for one key
// share a single load unless an invalidation happened in between. A load
// that started before an invalidation is returned to its callers but not
// stored.
package cache

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rbaliyan/imapstore/store"
)

// PathCache caches mailboxes by path and by ID.
type PathCache struct {
	mu     sync.Mutex
	byPath map[store.Path]entry[*store.Mailbox]
	byID   map[store.MailboxID]entry[*store.Mailbox]
	gen    uint64 // bumped on every invalidation
	group  singleflight.Group
	opts   *options
}

// NewPathCache creates an empty cache.
func NewPathCache(opts ...Option) *PathCache {
	return &PathCache{
		byPath: make(map[store.Path]entry[*store.Mailbox]),
		byID:   make(map[store.MailboxID]entry[*store.Mailbox]),
		opts:   newOptions(opts...),
	}
}

// Loader fetches a value on a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// Get returns the mailbox at path, calling loader on a miss.
// Errors, including store.ErrNotFound, are not cached.
func (c *PathCache) Get(ctx context.Context, path store.Path, loader Loader[*store.Mailbox]) (*store.Mailbox, error) {
	c.mu.Lock()
	if e, ok := c.byPath[path]; ok && c.opts.live(e.expires) {
		c.mu.Unlock()
		c.opts.logger.Debug("mailbox cache hit", "path", path.String())
		return e.value.Clone(), nil
	}
	gen := c.gen
	c.mu.Unlock()

	c.opts.logger.Debug("mailbox cache miss", "path", path.String())
	return c.load(ctx, pathKey(path), gen, loader)
}

// GetByID returns the mailbox with the given ID, calling loader on a miss.
func (c *PathCache) GetByID(ctx context.Context, id store.MailboxID, loader Loader[*store.Mailbox]) (*store.Mailbox, error) {
	c.mu.Lock()
	if e, ok := c.byID[id]; ok && c.opts.live(e.expires) {
		c.mu.Unlock()
		c.opts.logger.Debug("mailbox cache hit", "mailbox_id", id)
		return e.value.Clone(), nil
	}
	gen := c.gen
	c.mu.Unlock()

	c.opts.logger.Debug("mailbox cache miss", "mailbox_id", id)
	return c.load(ctx, "id\x00"+string(id), gen, loader)
}

func (c *PathCache) load(ctx context.Context, key string, gen uint64, loader Loader[*store.Mailbox]) (*store.Mailbox, error) {
	v, err, _ := c.group.Do(flightKey(gen, key), func() (any, error) {
		return loader(ctx)
	})
	if err != nil {
		return nil, err
	}
	mb := v.(*store.Mailbox)
	if mb == nil {
		return nil, store.ErrNotFound
	}

	c.mu.Lock()
	if c.gen == gen {
		e := entry[*store.Mailbox]{value: mb.Clone(), expires: c.opts.expiry()}
		c.byPath[mb.Path] = e
		c.byID[mb.ID] = e
	}
	c.mu.Unlock()
	return mb.Clone(), nil
}

// Invalidate removes every entry derived from the mailbox: its ID entry,
// its path entry, and any path entry that resolved to the same ID.
func (c *PathCache) Invalidate(mailbox *store.Mailbox) {
	if mailbox == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.byPath, mailbox.Path)
	if mailbox.ID == "" {
		return
	}
	delete(c.byID, mailbox.ID)
	for path, e := range c.byPath {
		if e.value.ID == mailbox.ID {
			delete(c.byPath, path)
		}
	}
}

// InvalidatePath removes the entry for path and the ID entry it resolved to.
func (c *PathCache) InvalidatePath(path store.Path) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if e, ok := c.byPath[path]; ok {
		delete(c.byID, e.value.ID)
		delete(c.byPath, path)
	}
}

// Len returns the number of cached paths.
func (c *PathCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byPath)
}

// flightKey scopes a shared load to one generation, so a miss after an
// invalidation never joins a load that started before it.
func flightKey(gen uint64, key string) string {
	return strconv.FormatUint(gen, 10) + "\x00" + key
}

func pathKey(p store.Path) string {
	return "path\x00" + p.Key()
}
