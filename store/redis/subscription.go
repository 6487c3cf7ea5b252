package redis

import (
	"context"
	"slices"

	"github.com/rbaliyan/imapstore/store"
)

// PutSubscription records a subscription.
func (s *Store) PutSubscription(ctx context.Context, sub store.Subscription) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.SAdd(ctx, s.subscriptionsKey(sub.User), sub.Mailbox).Err(); err != nil {
		return store.Failure("put subscription", err)
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, sub store.Subscription) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.SRem(ctx, s.subscriptionsKey(sub.User), sub.Mailbox).Err(); err != nil {
		return store.Failure("delete subscription", err)
	}
	return nil
}

// ListSubscriptions returns a user's subscriptions sorted by mailbox.
func (s *Store) ListSubscriptions(ctx context.Context, user string) ([]store.Subscription, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	names, err := s.client.SMembers(ctx, s.subscriptionsKey(user)).Result()
	if err != nil {
		return nil, store.Failure("list subscriptions", err)
	}
	slices.Sort(names)
	subs := make([]store.Subscription, len(names))
	for i, name := range names {
		subs[i] = store.Subscription{User: user, Mailbox: name}
	}
	return subs, nil
}
