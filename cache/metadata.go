package cache

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rbaliyan/imapstore/store"
)

// Key identifies a metadata entry. Every key is scoped to a mailbox so
// that invalidating the mailbox drops all of its entries.
type Key struct {
	MailboxID store.MailboxID
	Name      string
}

func (k Key) String() string {
	return strconv.Quote(string(k.MailboxID)) + "/" + strconv.Quote(k.Name)
}

// MetadataCache caches arbitrary per-mailbox values such as ACLs.
type MetadataCache struct {
	mu      sync.Mutex
	entries map[Key]entry[any]
	gen     uint64 // bumped on every invalidation
	group   singleflight.Group
	opts    *options
}

// NewMetadataCache creates an empty cache.
func NewMetadataCache(opts ...Option) *MetadataCache {
	return &MetadataCache{
		entries: make(map[Key]entry[any]),
		opts:    newOptions(opts...),
	}
}

// Get returns the value for key, calling loader on a miss.
// Loader errors are returned and not cached.
func (c *MetadataCache) Get(ctx context.Context, key Key, loader Loader[any]) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.opts.live(e.expires) {
		c.mu.Unlock()
		c.opts.logger.Debug("metadata cache hit", "key", key.String())
		return e.value, nil
	}
	gen := c.gen
	c.mu.Unlock()

	c.opts.logger.Debug("metadata cache miss", "key", key.String())
	v, err, _ := c.group.Do(flightKey(gen, key.String()), func() (any, error) {
		return loader(ctx)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries[key] = entry[any]{value: v, expires: c.opts.expiry()}
	}
	c.mu.Unlock()
	return v, nil
}

// Load is a typed wrapper around MetadataCache.Get.
func Load[V any](ctx context.Context, c *MetadataCache, key Key, loader Loader[V]) (V, error) {
	v, err := c.Get(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	out, _ := v.(V)
	return out, nil
}

// Invalidate removes one entry.
func (c *MetadataCache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.entries, key)
}

// InvalidateMailbox removes every entry scoped to the mailbox.
func (c *MetadataCache) InvalidateMailbox(id store.MailboxID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for key := range c.entries {
		if key.MailboxID == id {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached entries.
func (c *MetadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
