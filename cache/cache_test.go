package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/imapstore/mapper"
	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/memory"
	"github.com/rbaliyan/imapstore/store/storetest"
)

// countingMapper counts lookups that reach the wrapped mapper.
type countingMapper struct {
	store.MailboxMapper
	byPath atomic.Int32
	byID   atomic.Int32
}

func (c *countingMapper) FindByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	c.byPath.Add(1)
	return c.MailboxMapper.FindByPath(ctx, path)
}

func (c *countingMapper) FindByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	c.byID.Add(1)
	return c.MailboxMapper.FindByID(ctx, id)
}

func newCachedMapper(t *testing.T, opts ...Option) (*MailboxMapper, *countingMapper, *storetest.Faulty) {
	t.Helper()
	b := memory.New()
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	faulty := storetest.NewFaulty(b)
	counting := &countingMapper{MailboxMapper: mapper.NewMailboxMapper(faulty)}
	return NewMailboxMapper(counting, opts...), counting, faulty
}

func TestCacheHit(t *testing.T) {
	ctx := context.Background()
	m, counting, _ := newCachedMapper(t)

	mb := &store.Mailbox{Path: store.NewPath("#private", "user", "INBOX")}
	if err := m.Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for range 3 {
		got, err := m.FindByPath(ctx, mb.Path)
		if err != nil {
			t.Fatalf("FindByPath failed: %v", err)
		}
		if got.ID != mb.ID {
			t.Errorf("FindByPath ID = %s, want %s", got.ID, mb.ID)
		}
	}
	if n := counting.byPath.Load(); n != 1 {
		t.Errorf("FindByPath reached the mapper %d times, want 1", n)
	}

	// A path load also fills the ID entry.
	if _, err := m.FindByID(ctx, mb.ID); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if n := counting.byID.Load(); n != 0 {
		t.Errorf("FindByID reached the mapper %d times, want 0", n)
	}

	// Returned mailboxes are copies.
	got, _ := m.FindByPath(ctx, mb.Path)
	got.Path.Name = "mutated"
	again, _ := m.FindByPath(ctx, mb.Path)
	if again.Path.Name != "INBOX" {
		t.Errorf("cached entry was mutated through a returned value: %v", again.Path)
	}
}

func TestCacheMissIsNotCached(t *testing.T) {
	ctx := context.Background()
	m, counting, _ := newCachedMapper(t)

	path := store.NewPath("#private", "user", "Missing")
	for range 2 {
		if _, err := m.FindByPath(ctx, path); !store.IsNotFound(err) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if n := counting.byPath.Load(); n != 2 {
		t.Errorf("not-found lookups reached the mapper %d times, want 2", n)
	}
	if m.Paths().Len() != 0 {
		t.Errorf("cache holds %d entries after misses", m.Paths().Len())
	}
}

func TestRenameInvalidatesOldPath(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCachedMapper(t)

	mb := &store.Mailbox{Path: store.NewPath("#private", "user", "INBOX")}
	if err := m.Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	old := mb.Path
	if _, err := m.FindByPath(ctx, old); err != nil {
		t.Fatalf("FindByPath failed: %v", err)
	}
	if _, err := m.FindByID(ctx, mb.ID); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	key := Key{MailboxID: mb.ID, Name: "acl"}
	if _, err := Load(ctx, m.Metadata(), key, func(context.Context) (string, error) { return "lrswi", nil }); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// The caller renames its own copy; the cached entry still holds the
	// old path and must be dropped by ID.
	mb.Path.Name = "Archive"
	if err := m.Save(ctx, mb); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if _, err := m.FindByPath(ctx, old); !store.IsNotFound(err) {
		t.Errorf("old path still resolves: %v", err)
	}
	got, err := m.FindByID(ctx, mb.ID)
	if err != nil || got.Path.Name != "Archive" {
		t.Errorf("FindByID = %+v, %v; want Archive", got, err)
	}
	if n := m.Metadata().Len(); n != 0 {
		t.Errorf("rename left %d metadata entries", n)
	}
}

func TestFailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	m, counting, faulty := newCachedMapper(t)

	mb := &store.Mailbox{Path: store.NewPath("#private", "user", "INBOX")}
	if err := m.Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := m.FindByPath(ctx, mb.Path); err != nil {
		t.Fatalf("FindByPath failed: %v", err)
	}

	faulty.FailWrites.Store(true)
	renamed := mb.Clone()
	renamed.Path.Name = "Archive"
	if err := m.Save(ctx, renamed); !errors.Is(err, storetest.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := m.Delete(ctx, mb); !errors.Is(err, storetest.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	faulty.FailWrites.Store(false)

	if _, err := m.FindByPath(ctx, mb.Path); err != nil {
		t.Fatalf("FindByPath failed: %v", err)
	}
	if n := counting.byPath.Load(); n != 1 {
		t.Errorf("failed writes invalidated the cache: %d loads", n)
	}
}

func TestDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newCachedMapper(t)

	mb := &store.Mailbox{Path: store.NewPath("#private", "user", "INBOX")}
	other := &store.Mailbox{Path: store.NewPath("#private", "user", "Sent")}
	for _, x := range []*store.Mailbox{mb, other} {
		if err := m.Save(ctx, x); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if _, err := m.FindByPath(ctx, mb.Path); err != nil {
		t.Fatalf("FindByPath failed: %v", err)
	}

	meta := m.Metadata()
	loadACL := func(ctx context.Context) (string, error) { return "lrs", nil }
	for _, key := range []Key{{mb.ID, "acl"}, {mb.ID, "annotation"}, {other.ID, "acl"}} {
		if _, err := Load(ctx, meta, key, loadACL); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}

	if err := m.Delete(ctx, mb); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.FindByPath(ctx, mb.Path); !store.IsNotFound(err) {
		t.Errorf("deleted path still resolves: %v", err)
	}
	if _, err := m.FindByID(ctx, mb.ID); !store.IsNotFound(err) {
		t.Errorf("deleted ID still resolves: %v", err)
	}
	if n := meta.Len(); n != 1 {
		t.Errorf("metadata entries after delete = %d, want 1", n)
	}
}

func TestMetadataCache(t *testing.T) {
	ctx := context.Background()
	c := NewMetadataCache()
	key := Key{MailboxID: "mb", Name: "acl"}

	var calls int
	loader := func(ctx context.Context) (map[string]string, error) {
		calls++
		return map[string]string{"user": "lrswi"}, nil
	}
	for range 2 {
		acl, err := Load(ctx, c, key, loader)
		if err != nil || acl["user"] != "lrswi" {
			t.Fatalf("Load = %v, %v", acl, err)
		}
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	c.Invalidate(key)
	if _, err := Load(ctx, c, key, loader); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("loader called %d times after Invalidate, want 2", calls)
	}

	boom := errors.New("boom")
	_, err := Load(ctx, c, Key{MailboxID: "mb", Name: "other"}, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected loader error, got %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("errors were cached: %d entries", c.Len())
	}
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	m, counting, _ := newCachedMapper(t, WithTTL(time.Minute), WithClock(clock))
	mb := &store.Mailbox{Path: store.NewPath("#private", "user", "INBOX")}
	if err := m.Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	find := func() {
		t.Helper()
		if _, err := m.FindByPath(ctx, mb.Path); err != nil {
			t.Fatalf("FindByPath failed: %v", err)
		}
	}
	find()
	advance(30 * time.Second)
	find()
	if n := counting.byPath.Load(); n != 1 {
		t.Errorf("loads before expiry = %d, want 1", n)
	}
	advance(time.Minute)
	find()
	if n := counting.byPath.Load(); n != 2 {
		t.Errorf("loads after expiry = %d, want 2", n)
	}
}

func TestConcurrentMissesShareLoad(t *testing.T) {
	ctx := context.Background()
	c := NewPathCache()
	path := store.NewPath("#private", "user", "INBOX")
	want := &store.Mailbox{ID: "mb", Path: path, UIDValidity: 1}

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (*store.Mailbox, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return want, nil
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	get := func() {
		defer wg.Done()
		got, err := c.Get(ctx, path, loader)
		if err == nil && got.ID != want.ID {
			err = errors.New("wrong mailbox")
		}
		errs <- err
	}

	wg.Add(1)
	go get()
	<-started
	for range n - 1 {
		wg.Add(1)
		go get()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Get failed: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}
}

func TestInvalidationDuringLoad(t *testing.T) {
	ctx := context.Background()
	c := NewPathCache()
	path := store.NewPath("#private", "user", "INBOX")
	stale := &store.Mailbox{ID: "mb", Path: path, UIDValidity: 1}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, path, func(ctx context.Context) (*store.Mailbox, error) {
			close(started)
			<-release
			return stale, nil
		})
		done <- err
	}()

	<-started
	c.Invalidate(stale)
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c.Len() != 0 {
		t.Fatal("a load that raced an invalidation was stored")
	}

	fresh := &store.Mailbox{ID: "mb", Path: path, UIDValidity: 2}
	got, err := c.Get(ctx, path, func(ctx context.Context) (*store.Mailbox, error) {
		return fresh, nil
	})
	if err != nil || got.UIDValidity != 2 {
		t.Errorf("Get = %+v, %v; want the fresh mailbox", got, err)
	}
}

// A miss after an invalidation must not share a load that started before
// it, or the old value would be stored under the new generation.
func TestMissAfterInvalidationLoadsAgain(t *testing.T) {
	ctx := context.Background()
	path := store.NewPath("#private", "user", "INBOX")
	stale := &store.Mailbox{ID: "mb", Path: path, UIDValidity: 1}
	fresh := &store.Mailbox{ID: "mb", Path: path, UIDValidity: 2}

	t.Run("PathCache", func(t *testing.T) {
		c := NewPathCache()
		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := c.Get(ctx, path, func(ctx context.Context) (*store.Mailbox, error) {
				close(started)
				<-release
				return stale, nil
			})
			done <- err
		}()

		<-started
		c.Invalidate(stale)

		second := make(chan *store.Mailbox, 1)
		go func() {
			got, err := c.Get(ctx, path, func(ctx context.Context) (*store.Mailbox, error) {
				return fresh, nil
			})
			if err != nil {
				t.Errorf("Get failed: %v", err)
			}
			second <- got
		}()
		select {
		case got := <-second:
			if got == nil || got.UIDValidity != 2 {
				t.Errorf("Get after invalidation = %+v, want UIDValidity 2", got)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Get after invalidation joined the earlier load")
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		got, err := c.Get(ctx, path, func(ctx context.Context) (*store.Mailbox, error) {
			t.Error("loader called for a cached path")
			return fresh, nil
		})
		if err != nil || got.UIDValidity != 2 {
			t.Errorf("cached UIDValidity = %+v, %v; want 2", got, err)
		}
	})

	t.Run("MetadataCache", func(t *testing.T) {
		c := NewMetadataCache()
		key := Key{MailboxID: "mb", Name: "acl"}
		started := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := Load(ctx, c, key, func(ctx context.Context) (string, error) {
				close(started)
				<-release
				return "old", nil
			})
			done <- err
		}()

		<-started
		c.InvalidateMailbox("mb")

		second := make(chan string, 1)
		go func() {
			v, err := Load(ctx, c, key, func(ctx context.Context) (string, error) { return "new", nil })
			if err != nil {
				t.Errorf("Load failed: %v", err)
			}
			second <- v
		}()
		select {
		case v := <-second:
			if v != "new" {
				t.Errorf("Load after invalidation = %q, want new", v)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Load after invalidation joined the earlier load")
		}

		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		v, err := Load(ctx, c, key, func(ctx context.Context) (string, error) { return "reloaded", nil })
		if err != nil || v != "new" {
			t.Errorf("cached value = %q, %v; want new", v, err)
		}
	})
}

func TestLoadNilInterfaceValue(t *testing.T) {
	c := NewMetadataCache()
	v, err := Load(context.Background(), c, Key{MailboxID: "mb", Name: "quota"}, func(context.Context) (any, error) {
		return nil, nil
	})
	if err != nil || v != nil {
		t.Errorf("Load = %v, %v; want nil, nil", v, err)
	}
}

func TestInvalidateHooks(t *testing.T) {
	ctx := context.Background()
	m, counting, _ := newCachedMapper(t)

	mb := &store.Mailbox{Path: store.NewPath("#private", "user", "INBOX")}
	if err := m.Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := m.FindByPath(ctx, mb.Path); err != nil {
		t.Fatalf("FindByPath failed: %v", err)
	}

	m.InvalidatePath(mb.Path)
	if m.Paths().Len() != 0 {
		t.Errorf("InvalidatePath left %d entries", m.Paths().Len())
	}
	if _, err := m.FindByID(ctx, mb.ID); err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if n := counting.byID.Load(); n != 1 {
		t.Errorf("InvalidatePath kept the ID entry: %d ID loads", n)
	}

	m.Invalidate(mb)
	m.Invalidate(nil)
	if m.Paths().Len() != 0 {
		t.Errorf("Invalidate left %d entries", m.Paths().Len())
	}
}
