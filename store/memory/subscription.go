package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/rbaliyan/imapstore/store"
)

type subscriptionSet struct {
	mu        sync.Mutex
	mailboxes map[string]struct{}
}

// PutSubscription records a subscription. Existing ones are kept.
func (s *Store) PutSubscription(_ context.Context, sub store.Subscription) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	v, _ := s.subscriptions.LoadOrStore(sub.User, &subscriptionSet{mailboxes: make(map[string]struct{})})
	set := v.(*subscriptionSet)
	set.mu.Lock()
	set.mailboxes[sub.Mailbox] = struct{}{}
	set.mu.Unlock()
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, sub store.Subscription) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	v, ok := s.subscriptions.Load(sub.User)
	if !ok {
		return nil
	}
	set := v.(*subscriptionSet)
	set.mu.Lock()
	delete(set.mailboxes, sub.Mailbox)
	set.mu.Unlock()
	return nil
}

// ListSubscriptions returns a user's subscriptions sorted by mailbox.
func (s *Store) ListSubscriptions(_ context.Context, user string) ([]store.Subscription, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	v, ok := s.subscriptions.Load(user)
	if !ok {
		return nil, nil
	}
	set := v.(*subscriptionSet)
	set.mu.Lock()
	names := make([]string, 0, len(set.mailboxes))
	for name := range set.mailboxes {
		names = append(names, name)
	}
	set.mu.Unlock()
	slices.Sort(names)

	subs := make([]store.Subscription, len(names))
	for i, name := range names {
		subs[i] = store.Subscription{User: user, Mailbox: name}
	}
	return subs, nil
}
