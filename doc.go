// Package imapstore is the persistence and consistency core of an IMAP
// mailbox store.
//
// It allocates per-mailbox UIDs and ModSeqs and applies flag changes under
// concurrent access from many processes, on top of a backend that offers
// only single-row conditional writes. There are no locks: allocation and
// flag writes are compare-and-swap loops bounded by attempt counts.
//
// # Basic Usage
//
//	svc, err := imapstore.NewService(
//	    imapstore.WithBackend(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close(ctx)
//
//	inbox := &store.Mailbox{Path: store.NewPath("#private", "alice", "INBOX"), UIDValidity: 1}
//	if err := svc.Mailboxes().Save(ctx, inbox); err != nil {
//	    log.Fatal(err)
//	}
//	md, err := svc.Messages().Add(ctx, inbox, &store.Message{Content: raw})
//	updated, err := svc.Messages().UpdateFlags(ctx, inbox,
//	    store.SingleMessage(md.UID), store.AddFlags(store.NewFlags(store.FlagSeen)))
//
// # Storage Backends
//
//   - In-memory (store/memory) - for testing
//   - bbolt (store/bolt) - single file, embedded
//   - Redis (store/redis) - accepts redis.UniversalClient
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB or *sql.DB
//   - Cassandra (store/cassandra) - accepts *gocql.Session
//
// A YAML document can select and address the backend; see Config.
//
// # Caching
//
// Mailboxes() is cached by path and ID unless WithCache(false). Entries are
// invalidated only after a successful write. Cache() exposes the
// invalidation hooks for changes made outside the service.
//
// # Limits
//
// Appends and flag updates are checked against MessageLimits before any UID
// or ModSeq is allocated. Keywords must be IMAP atoms. See WithMessageLimits.
//
// # Events
//
// Events use the github.com/rbaliyan/event/v3 library. Pass WithRedisClient
// or WithEventTransport to deliver them; the default transport drops them.
// Events are published after the storage change succeeded:
//   - MessageAdded - a message was appended or copied
//   - FlagsUpdated - one per message whose flags were written
//   - MessagesExpunged - messages were deleted or expunged
//   - MailboxDeleted - a mailbox and its contents were deleted
//
// # Observability
//
// WithTracing and WithMetrics instrument mapper operations and every
// backend call (see store/otel), including a counter of conditional writes
// that lost a race.
package imapstore
