package store

import (
	"context"
	"iter"
)

// MailboxMapper is the mailbox persistence contract.
type MailboxMapper interface {
	// FindByPath returns the mailbox at path or ErrNotFound.
	FindByPath(ctx context.Context, path Path) (*Mailbox, error)

	// FindByID returns the mailbox with the given ID or ErrNotFound.
	FindByID(ctx context.Context, id MailboxID) (*Mailbox, error)

	// FindWithPathLike returns the mailboxes of the pattern's namespace and
	// user whose name fully matches pattern.Name, where Wildcard matches
	// zero or more characters.
	FindWithPathLike(ctx context.Context, pattern Path) ([]*Mailbox, error)

	// Save inserts the mailbox with a fresh ID when ID is empty, otherwise
	// upserts it by ID. The generated ID is set on the mailbox.
	Save(ctx context.Context, mailbox *Mailbox) error

	// Delete removes the mailbox and everything it contains.
	Delete(ctx context.Context, mailbox *Mailbox) error

	// HasChildren reports whether another mailbox of the same owner has a
	// name starting with mailbox.Name followed by delimiter.
	HasChildren(ctx context.Context, mailbox *Mailbox, delimiter rune) (bool, error)

	// List returns every mailbox.
	List(ctx context.Context) ([]*Mailbox, error)
}

// MessageMapper is the message persistence contract.
type MessageMapper interface {
	CountMessages(ctx context.Context, mailbox *Mailbox) (int64, error)
	CountUnseen(ctx context.Context, mailbox *Mailbox) (int64, error)

	// FindInRange lazily yields the messages in rng by ascending UID.
	// A limit <= 0 means no limit. Iteration stops after the first error.
	FindInRange(ctx context.Context, mailbox *Mailbox, rng MessageRange, fetch FetchType, limit int) iter.Seq2[*Message, error]

	// FindRecentUIDs returns the UIDs of RECENT messages, sorted.
	FindRecentUIDs(ctx context.Context, mailbox *Mailbox) ([]UID, error)

	// FindFirstUnseenUID returns the lowest UID not SEEN. The bool is false
	// when every message is seen.
	FindFirstUnseenUID(ctx context.Context, mailbox *Mailbox) (UID, bool, error)

	// Add allocates a UID and a ModSeq, persists the message and updates
	// the counters. The allocated values are set on msg.
	Add(ctx context.Context, mailbox *Mailbox, msg *Message) (MessageMetaData, error)

	// Delete removes the message and updates the counters.
	Delete(ctx context.Context, mailbox *Mailbox, msg *Message) error

	// ExpungeDeleted removes every DELETED message in rng and returns what
	// was removed keyed by UID.
	ExpungeDeleted(ctx context.Context, mailbox *Mailbox, rng MessageRange) (map[UID]MessageMetaData, error)

	// Copy stores a new message in mailbox with the content and flags of
	// msg plus RECENT.
	Copy(ctx context.Context, mailbox *Mailbox, msg *Message) (MessageMetaData, error)

	// UpdateFlags applies the update to every message in rng. Updates are
	// not atomic across the range: on error, earlier messages stay updated.
	UpdateFlags(ctx context.Context, mailbox *Mailbox, rng MessageRange, update FlagUpdate) ([]UpdatedFlags, error)

	// LastUID returns the highest UID allocated in mailbox, 0 if none.
	LastUID(ctx context.Context, mailbox *Mailbox) (UID, error)

	// HighestModSeq returns the highest ModSeq allocated in mailbox, 0 if none.
	HighestModSeq(ctx context.Context, mailbox *Mailbox) (ModSeq, error)
}

// SubscriptionMapper persists IMAP subscriptions.
type SubscriptionMapper interface {
	Save(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, sub Subscription) error
	// FindForUser returns the user's subscriptions sorted by mailbox name.
	FindForUser(ctx context.Context, user string) ([]Subscription, error)
	// Find returns the subscription or ErrNotFound.
	Find(ctx context.Context, user, mailbox string) (Subscription, error)
}
