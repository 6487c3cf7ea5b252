package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/imapstore/store"
)

// LoadSequence returns the last issued value.
func (s *Store) LoadSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID) (uint64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.sequenceKey(kind, id)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, store.Failure("load sequence", err)
	}
	return v, true, nil
}

// InsertSequence creates the row if absent.
func (s *Store) InsertSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, value uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	applied, err := s.client.SetNX(ctx, s.sequenceKey(kind, id), strconv.FormatUint(value, 10), 0).Result()
	if err != nil {
		return false, store.Failure("insert sequence", err)
	}
	return applied, nil
}

// SwapSequence sets the row to newValue if it holds oldValue.
func (s *Store) SwapSequence(ctx context.Context, kind store.SequenceKind, id store.MailboxID, oldValue, newValue uint64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	applied, err := swapSequenceScript.Run(ctx, s.client, []string{s.sequenceKey(kind, id)},
		strconv.FormatUint(oldValue, 10),
		strconv.FormatUint(newValue, 10),
	).Int()
	if err != nil {
		return false, store.Failure("swap sequence", err)
	}
	return applied == 1, nil
}

// AddCounters applies delta to the mailbox counters with HINCRBY.
func (s *Store) AddCounters(ctx context.Context, id store.MailboxID, delta store.MailboxCounters) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	key := s.countersKey(id)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, "count", delta.Count)
		p.HIncrBy(ctx, key, "unseen", delta.Unseen)
		return nil
	})
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

	vals, err := s.client.HMGet(ctx, s.countersKey(id), "count", "unseen").Result()
	if err != nil {
		return store.MailboxCounters{}, store.Failure("load counters", err)
	}
	var c store.MailboxCounters
	for i, dst := range []*int64{&c.Count, &c.Unseen} {
		str, ok := vals[i].(string)
		if !ok {
			continue
		}
		if *dst, err = strconv.ParseInt(str, 10, 64); err != nil {
			return store.MailboxCounters{}, store.Failure("load counters", err)
		}
	}
	return c, nil
}
