package bolt

import (
	"context"

	"go.etcd.io/bbolt"

	"github.com/rbaliyan/imapstore/store"
)

// PutSubscription records a subscription.
func (s *Store) PutSubscription(_ context.Context, sub store.Subscription) error {
	_, err := s.update("put subscription", func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketSubscriptions).CreateBucketIfNotExists([]byte(sub.User))
		if err != nil {
			return err
		}
		return b.Put([]byte(sub.Mailbox), []byte{})
	})
	return err
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, sub store.Subscription) error {
	_, err := s.update("delete subscription", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions).Bucket([]byte(sub.User))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(sub.Mailbox))
	})
	return err
}

// ListSubscriptions returns a user's subscriptions sorted by mailbox.
// Keys are kept in byte order by bbolt.
func (s *Store) ListSubscriptions(_ context.Context, user string) ([]store.Subscription, error) {
	var subs []store.Subscription
	err := s.view("list subscriptions", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSubscriptions).Bucket([]byte(user))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			subs = append(subs, store.Subscription{User: user, Mailbox: string(k)})
			return nil
		})
	})
	return subs, err
}
