package cassandra

import (
	"context"

	"github.com/rbaliyan/imapstore/store"
)

// PutSubscription records a subscription.
func (s *Store) PutSubscription(ctx context.Context, sub store.Subscription) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.query(ctx, `INSERT INTO subscription (user, mailbox) VALUES (?, ?)`, sub.User, sub.Mailbox).Exec(); err != nil {
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

	if err := s.query(ctx, `DELETE FROM subscription WHERE user = ? AND mailbox = ?`, sub.User, sub.Mailbox).Exec(); err != nil {
		return store.Failure("delete subscription", err)
	}
	return nil
}

// ListSubscriptions returns a user's subscriptions in clustering order,
// which sorts them by mailbox.
func (s *Store) ListSubscriptions(ctx context.Context, user string) ([]store.Subscription, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	iter := s.query(ctx, `SELECT mailbox FROM subscription WHERE user = ?`, user).Iter()
	var (
		subs    []store.Subscription
		mailbox string
	)
	for iter.Scan(&mailbox) {
		subs = append(subs, store.Subscription{User: user, Mailbox: mailbox})
	}
	if err := iter.Close(); err != nil {
		return nil, store.Failure("list subscriptions", err)
	}
	return subs, nil
}
