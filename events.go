package imapstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for mailbox store events.
const (
	EventNameMessageAdded     = "imapstore.message.added"
	EventNameFlagsUpdated     = "imapstore.flags.updated"
	EventNameMessagesExpunged = "imapstore.messages.expunged"
	EventNameMailboxDeleted   = "imapstore.mailbox.deleted"
)

// MessageAddedEvent is published after a message was appended or copied
// into a mailbox.
type MessageAddedEvent struct {
	MailboxID string    `json:"mailbox_id"`
	UID       uint64    `json:"uid"`
	ModSeq    uint64    `json:"modseq"`
	Flags     []string  `json:"flags"`
	Copied    bool      `json:"copied"`
	AddedAt   time.Time `json:"added_at"`
}

// FlagsUpdatedEvent is published once per message whose flags an update
// stored. Every stored change has a fresh ModSeq, including no-op updates.
type FlagsUpdatedEvent struct {
	MailboxID string    `json:"mailbox_id"`
	UID       uint64    `json:"uid"`
	ModSeq    uint64    `json:"modseq"`
	OldFlags  []string  `json:"old_flags"`
	NewFlags  []string  `json:"new_flags"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessagesExpungedEvent is published after messages were removed from a mailbox.
type MessagesExpungedEvent struct {
	MailboxID  string    `json:"mailbox_id"`
	UIDs       []uint64  `json:"uids"`
	ExpungedAt time.Time `json:"expunged_at"`
}

// MailboxDeletedEvent is published after a mailbox and its contents were deleted.
type MailboxDeletedEvent struct {
	MailboxID string    `json:"mailbox_id"`
	Path      string    `json:"path"`
	DeletedAt time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageAdded.Subscribe(ctx, handler)
//	svc.Events().FlagsUpdated.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageAdded is published when a message is appended or copied.
	MessageAdded event.Event[MessageAddedEvent]

	// FlagsUpdated is published for every stored flag change.
	FlagsUpdated event.Event[FlagsUpdatedEvent]

	// MessagesExpunged is published when messages are deleted or expunged.
	MessagesExpunged event.Event[MessagesExpungedEvent]

	// MailboxDeleted is published when a mailbox is deleted.
	MailboxDeleted event.Event[MailboxDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageAdded:     event.New[MessageAddedEvent](namePrefix + "." + EventNameMessageAdded),
		FlagsUpdated:     event.New[FlagsUpdatedEvent](namePrefix + "." + EventNameFlagsUpdated),
		MessagesExpunged: event.New[MessagesExpungedEvent](namePrefix + "." + EventNameMessagesExpunged),
		MailboxDeleted:   event.New[MailboxDeletedEvent](namePrefix + "." + EventNameMailboxDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageAdded); err != nil {
		return fmt.Errorf("register MessageAdded: %w", err)
	}
	if err := event.Register(ctx, bus, events.FlagsUpdated); err != nil {
		return fmt.Errorf("register FlagsUpdated: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessagesExpunged); err != nil {
		return fmt.Errorf("register MessagesExpunged: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailboxDeleted); err != nil {
		return fmt.Errorf("register MailboxDeleted: %w", err)
	}
	return nil
}

// publish sends one event. Failures are logged and reported to the failure
// handler; they are returned only when event errors are fatal.
func publish[T any](ctx context.Context, s *service, name string, ev event.Event[T], payload T) error {
	err := ev.Publish(ctx, payload)
	if err == nil {
		return nil
	}
	s.logger.Warn("event publish failed", "event", name, "error", err)
	s.opts.safeEventPublishFailure(name, err)
	if s.opts.eventErrorsFatal {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}
