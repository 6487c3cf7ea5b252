package mapper

import (
	"context"

	"github.com/rbaliyan/imapstore/store"
)

// SubscriptionMapper implements store.SubscriptionMapper.
type SubscriptionMapper struct {
	store store.SubscriptionStore
}

var _ store.SubscriptionMapper = (*SubscriptionMapper)(nil)

// NewSubscriptionMapper creates a subscription mapper over s.
func NewSubscriptionMapper(s store.SubscriptionStore) *SubscriptionMapper {
	return &SubscriptionMapper{store: s}
}

func (m *SubscriptionMapper) Save(ctx context.Context, sub store.Subscription) error {
	return m.store.PutSubscription(ctx, sub)
}

func (m *SubscriptionMapper) Delete(ctx context.Context, sub store.Subscription) error {
	return m.store.DeleteSubscription(ctx, sub)
}

func (m *SubscriptionMapper) FindForUser(ctx context.Context, user string) ([]store.Subscription, error) {
	return m.store.ListSubscriptions(ctx, user)
}

// Find returns the subscription of user to mailbox or store.ErrNotFound.
func (m *SubscriptionMapper) Find(ctx context.Context, user, mailbox string) (store.Subscription, error) {
	subs, err := m.store.ListSubscriptions(ctx, user)
	if err != nil {
		return store.Subscription{}, err
	}
	for _, sub := range subs {
		if sub.Mailbox == mailbox {
			return sub, nil
		}
	}
	return store.Subscription{}, store.ErrNotFound
}
