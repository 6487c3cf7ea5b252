// Package redis provides a Redis implementation of store.Backend.
//
// Every conditional write is a Lua script touching a single logical row,
// so it executes atomically on the server. Message UIDs of a mailbox are
// kept in a sorted set scored by UID, which gives ordered range scans.
// Scores are float64, so UIDs are exact up to 2^53.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/imapstore/store"
)

// Store implements store.Backend using Redis.
type Store struct {
	client    redis.UniversalClient
	opts      *options
	logger    *slog.Logger
	connected int32
}

// Compile-time checks.
var (
	_ store.Backend           = (*Store)(nil)
	_ store.SubscriptionStore = (*Store)(nil)
)

// New creates a new Redis store with the provided client.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
// Mailbox writes touch the global path index and are not cluster-safe
// across slots; use a single shard for those keys.
func New(client redis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect verifies the connection.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}
	if s.client == nil {
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	s.logger.Info("connected to Redis", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the Redis client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// Keys
// =============================================================================

func (s *Store) mailboxKey(id store.MailboxID) string {
	return s.opts.prefix + "mailbox:" + string(id)
}

func (s *Store) pathsKey() string {
	return s.opts.prefix + "paths"
}

func (s *Store) mailboxesKey() string {
	return s.opts.prefix + "mailboxes"
}

func (s *Store) uidsKey(id store.MailboxID) string {
	return s.opts.prefix + "uids:" + string(id)
}

func (s *Store) messagePrefix(id store.MailboxID) string {
	return s.opts.prefix + "message:" + string(id) + ":"
}

func (s *Store) messageKey(id store.MailboxID, uid store.UID) string {
	return s.messagePrefix(id) + strconv.FormatUint(uint64(uid), 10)
}

func (s *Store) sequenceKey(kind store.SequenceKind, id store.MailboxID) string {
	return s.opts.prefix + "seq:" + kind.String() + ":" + string(id)
}

func (s *Store) countersKey(id store.MailboxID) string {
	return s.opts.prefix + "counters:" + string(id)
}

func (s *Store) subscriptionsKey(user string) string {
	return s.opts.prefix + "subscriptions:" + user
}

// =============================================================================
// Scripts
// =============================================================================

// KEYS: paths, mailbox, mailboxes. ARGV: id, path field, namespace, user, name, uidvalidity.
var putMailboxScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], ARGV[2])
if holder and holder ~= ARGV[1] then
	return 0
end
local old = redis.call('HGET', KEYS[2], 'path')
if old and old ~= ARGV[2] then
	redis.call('HDEL', KEYS[1], old)
end
redis.call('HSET', KEYS[2], 'path', ARGV[2], 'ns', ARGV[3], 'user', ARGV[4], 'name', ARGV[5], 'uidvalidity', ARGV[6])
redis.call('HSET', KEYS[1], ARGV[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

// KEYS: mailbox, paths, mailboxes, uids, uid sequence, modseq sequence, counters.
// ARGV: id, message key prefix.
var deleteMailboxScript = redis.NewScript(`
local path = redis.call('HGET', KEYS[1], 'path')
if path and redis.call('HGET', KEYS[2], path) == ARGV[1] then
	redis.call('HDEL', KEYS[2], path)
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[1])
for _, uid in ipairs(redis.call('ZRANGE', KEYS[4], 0, -1)) do
	redis.call('DEL', ARGV[2] .. uid)
end
redis.call('DEL', KEYS[4], KEYS[5], KEYS[6], KEYS[7])
return 1
`)

// KEYS: message. ARGV: expected version, system flags, keywords, modseq.
var swapFlagsScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v or v ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'sys', ARGV[2], 'kw', ARGV[3], 'modseq', ARGV[4])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

// KEYS: message, uids. ARGV: uid.
var deleteMessageScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS: message, uids. ARGV: uid, expected version.
var deleteMessageIfScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v or v ~= ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS: sequence. ARGV: old value, new value.
var swapSequenceScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)
