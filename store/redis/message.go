package redis

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/imapstore/store"
)

// Message hash fields.
var (
	metadataFields = []string{"modseq", "sys", "kw", "version", "date", "size"}
	fullFields     = append(append([]string(nil), metadataFields...), "content")
)

// InsertMessage writes the row unconditionally.
func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if msg == nil || msg.MailboxID == "" {
		return store.ErrInvalidID
	}
	kw, err := encodeKeywords(msg.Flags)
	if err != nil {
		return store.Failure("insert message", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	uid := strconv.FormatUint(uint64(msg.UID), 10)
	key := s.messageKey(msg.MailboxID, msg.UID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"modseq", strconv.FormatUint(uint64(msg.ModSeq), 10),
			"sys", strconv.FormatUint(uint64(msg.Flags.System), 10),
			"kw", kw,
			"version", strconv.FormatInt(msg.Version, 10),
			"date", msg.InternalDate.UTC().Format(time.RFC3339Nano),
			"size", strconv.FormatInt(msg.Size, 10),
			"content", msg.Content,
		)
		p.ZAdd(ctx, s.uidsKey(msg.MailboxID), redis.Z{Score: float64(msg.UID), Member: uid})
		return nil
	})
	if err != nil {
		return store.Failure("insert message", err)
	}
	return nil
}

// GetMessage returns the full row.
func (s *Store) GetMessage(ctx context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	vals, err := s.client.HMGet(ctx, s.messageKey(id, uid), fullFields...).Result()
	if err != nil {
		return nil, store.Failure("get message", err)
	}
	return decodeMessage(id, uid, vals)
}

// SwapFlags writes flags and modSeq if the stored version equals expectedVersion.
func (s *Store) SwapFlags(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64, flags store.Flags, modSeq store.ModSeq) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	kw, err := encodeKeywords(flags)
	if err != nil {
		return false, store.Failure("swap flags", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	applied, err := swapFlagsScript.Run(ctx, s.client, []string{s.messageKey(id, uid)},
		strconv.FormatInt(expectedVersion, 10),
		strconv.FormatUint(uint64(flags.System), 10),
		kw,
		strconv.FormatUint(uint64(modSeq), 10),
	).Int()
	if err != nil {
		return false, store.Failure("swap flags", err)
	}
	return applied == 1, nil
}

// DeleteMessage removes the row.
func (s *Store) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys := []string{s.messageKey(id, uid), s.uidsKey(id)}
	deleted, err := deleteMessageScript.Run(ctx, s.client, keys, strconv.FormatUint(uint64(uid), 10)).Int()
	if err != nil {
		return store.Failure("delete message", err)
	}
	if deleted == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteMessageIf removes the row if its version equals expectedVersion.
func (s *Store) DeleteMessageIf(ctx context.Context, id store.MailboxID, uid store.UID, expectedVersion int64) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	keys := []string{s.messageKey(id, uid), s.uidsKey(id)}
	deleted, err := deleteMessageIfScript.Run(ctx, s.client, keys,
		strconv.FormatUint(uint64(uid), 10),
		strconv.FormatInt(expectedVersion, 10),
	).Int()
	if err != nil {
		return false, store.Failure("delete message", err)
	}
	return deleted == 1, nil
}

// ScanMessages returns the rows in rng by ascending UID. Rows deleted
// between the index read and the row read are skipped and the index is
// read further, so a short result means the range is exhausted.
func (s *Store) ScanMessages(ctx context.Context, id store.MailboxID, rng store.MessageRange, fetch store.FetchType, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if rng.Empty() {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	lo, hi := rng.Bounds()
	var result []*store.Message
	for {
		want := 0
		if limit > 0 {
			want = limit - len(result)
		}
		msgs, indexed, last, err := s.scanIndex(ctx, id, lo, hi, fetch, want)
		if err != nil {
			return nil, err
		}
		result = append(result, msgs...)
		if want <= 0 || indexed < want || last >= hi || len(result) >= limit {
			return result, nil
		}
		lo = last + 1
	}
}

// scanIndex reads up to count UIDs from the index starting at lo and loads
// their rows. It returns the rows still present, the number of index
// entries read and the last UID read.
func (s *Store) scanIndex(ctx context.Context, id store.MailboxID, lo, hi store.UID, fetch store.FetchType, count int) ([]*store.Message, int, store.UID, error) {
	by := &redis.ZRangeBy{Min: strconv.FormatUint(uint64(lo), 10), Max: "+inf"}
	if hi != math.MaxUint64 {
		by.Max = strconv.FormatUint(uint64(hi), 10)
	}
	if count > 0 {
		by.Count = int64(count)
	}
	members, err := s.client.ZRangeByScore(ctx, s.uidsKey(id), by).Result()
	if err != nil {
		return nil, 0, 0, store.Failure("scan messages", err)
	}
	if len(members) == 0 {
		return nil, 0, 0, nil
	}

	fields := metadataFields
	if fetch == store.FetchFull {
		fields = fullFields
	}
	uids := make([]store.UID, len(members))
	cmds := make([]*redis.SliceCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, m := range members {
			v, err := strconv.ParseUint(m, 10, 64)
			if err != nil {
				return err
			}
			uids[i] = store.UID(v)
			cmds[i] = p.HMGet(ctx, s.messageKey(id, uids[i]), fields...)
		}
		return nil
	})
	if err != nil {
		return nil, 0, 0, store.Failure("scan messages", err)
	}

	result := make([]*store.Message, 0, len(members))
	for i, cmd := range cmds {
		msg, err := decodeMessage(id, uids[i], cmd.Val())
		if store.IsNotFound(err) {
			// Deleted between the index read and the row read.
			continue
		}
		if err != nil {
			return nil, 0, 0, err
		}
		result = append(result, msg)
	}
	return result, len(members), uids[len(uids)-1], nil
}

func encodeKeywords(f store.Flags) (string, error) {
	if len(f.User) == 0 {
		return "", nil
	}
	b, err := json.Marshal(f.User)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeMessage builds a message from HMGET values in metadataFields
// order, optionally followed by content.
func decodeMessage(id store.MailboxID, uid store.UID, vals []any) (*store.Message, error) {
	if len(vals) < len(metadataFields) || vals[0] == nil {
		return nil, store.ErrNotFound
	}
	str := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}

	msg := &store.Message{MailboxID: id, UID: uid}
	modSeq, err := strconv.ParseUint(str(0), 10, 64)
	if err != nil {
		return nil, store.Failure("decode message", err)
	}
	msg.ModSeq = store.ModSeq(modSeq)
	sys, err := strconv.ParseUint(str(1), 10, 8)
	if err != nil {
		return nil, store.Failure("decode message", err)
	}
	var keywords []string
	if kw := str(2); kw != "" {
		if err := json.Unmarshal([]byte(kw), &keywords); err != nil {
			return nil, store.Failure("decode message", err)
		}
	}
	msg.Flags = store.NewFlags(store.SystemFlag(sys), keywords...)
	if msg.Version, err = strconv.ParseInt(str(3), 10, 64); err != nil {
		return nil, store.Failure("decode message", err)
	}
	if msg.InternalDate, err = time.Parse(time.RFC3339Nano, str(4)); err != nil {
		return nil, store.Failure("decode message", err)
	}
	if msg.Size, err = strconv.ParseInt(str(5), 10, 64); err != nil {
		return nil, store.Failure("decode message", err)
	}
	if len(vals) > len(metadataFields) {
		msg.Content = []byte(str(len(metadataFields)))
	}
	return msg, nil
}
