package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/imapstore/store"
)

// GetMailbox returns the mailbox with the given ID.
func (s *Store) GetMailbox(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.mailboxKey(id)).Result()
	if err != nil {
		return nil, store.Failure("get mailbox", err)
	}
	return decodeMailbox(id, fields)
}

// GetMailboxByPath returns the mailbox at path.
func (s *Store) GetMailboxByPath(ctx context.Context, path store.Path) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	lookup, cancel := context.WithTimeout(ctx, s.opts.timeout)
	id, err := s.client.HGet(lookup, s.pathsKey(), path.Key()).Result()
	cancel()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.Failure("get mailbox by path", err)
	}
	return s.GetMailbox(ctx, store.MailboxID(id))
}

// ListMailboxes returns the mailboxes matching filter.
func (s *Store) ListMailboxes(ctx context.Context, filter *store.PathFilter) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.mailboxesKey()).Result()
	if err != nil {
		return nil, store.Failure("list mailboxes", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.mailboxKey(store.MailboxID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, store.Failure("list mailboxes", err)
	}

	result := make([]*store.Mailbox, 0, len(ids))
	for i, cmd := range cmds {
		mb, err := decodeMailbox(store.MailboxID(ids[i]), cmd.Val())
		if store.IsNotFound(err) {
			// Deleted between SMEMBERS and HGETALL.
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(mb.Path) {
			result = append(result, mb)
		}
	}
	return result, nil
}

// PutMailbox inserts or replaces a mailbox keyed by ID.
func (s *Store) PutMailbox(ctx context.Context, mailbox *store.Mailbox) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if mailbox == nil || mailbox.ID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys := []string{s.pathsKey(), s.mailboxKey(mailbox.ID), s.mailboxesKey()}
	applied, err := putMailboxScript.Run(ctx, s.client, keys,
		string(mailbox.ID),
		mailbox.Path.Key(),
		mailbox.Path.Namespace,
		mailbox.Path.User,
		mailbox.Path.Name,
		mailbox.UIDValidity,
	).Int()
	if err != nil {
		return store.Failure("put mailbox", err)
	}
	if applied == 0 {
		return store.ErrDuplicateEntry
	}
	return nil
}

// DeleteMailbox removes a mailbox and everything it owns.
func (s *Store) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys := []string{
		s.mailboxKey(id),
		s.pathsKey(),
		s.mailboxesKey(),
		s.uidsKey(id),
		s.sequenceKey(store.SequenceUID, id),
		s.sequenceKey(store.SequenceModSeq, id),
		s.countersKey(id),
	}
	if err := deleteMailboxScript.Run(ctx, s.client, keys, string(id), s.messagePrefix(id)).Err(); err != nil {
		return store.Failure("delete mailbox", err)
	}
	return nil
}

func decodeMailbox(id store.MailboxID, fields map[string]string) (*store.Mailbox, error) {
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	validity, err := strconv.ParseUint(fields["uidvalidity"], 10, 32)
	if err != nil {
		return nil, store.Failure("decode mailbox", err)
	}
	return &store.Mailbox{
		ID:          id,
		Path:        store.NewPath(fields["ns"], fields["user"], fields["name"]),
		UIDValidity: uint32(validity),
	}, nil
}
