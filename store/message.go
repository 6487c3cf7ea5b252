package store

import (
	"slices"
	"time"
)

// UID is the per-mailbox message identifier. Strictly increasing, never reused.
type UID uint64

// ModSeq is the per-mailbox modification sequence.
type ModSeq uint64

// FetchType selects how much of a message row a scan loads.
type FetchType int

// Fetch types.
const (
	// FetchMetadata loads everything except Content.
	FetchMetadata FetchType = iota
	// FetchFull loads the whole row.
	FetchFull
)

func (f FetchType) String() string {
	if f == FetchFull {
		return "full"
	}
	return "metadata"
}

// Message is a message row.
type Message struct {
	MailboxID MailboxID
	UID       UID
	ModSeq    ModSeq
	Flags     Flags
	// Version is the optimistic-concurrency token. Every successful flag
	// write increments it by exactly one.
	Version      int64
	InternalDate time.Time
	Size         int64
	Content      []byte
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Flags = m.Flags.Clone()
	c.Content = slices.Clone(m.Content)
	return &c
}

// MetaData returns the message identity and flags.
func (m *Message) MetaData() MessageMetaData {
	return MessageMetaData{
		UID:          m.UID,
		ModSeq:       m.ModSeq,
		Flags:        m.Flags.Clone(),
		Size:         m.Size,
		InternalDate: m.InternalDate,
	}
}

// MessageMetaData describes a message without its content.
type MessageMetaData struct {
	UID          UID
	ModSeq       ModSeq
	Flags        Flags
	Size         int64
	InternalDate time.Time
}

// UpdatedFlags records one applied flag change.
type UpdatedFlags struct {
	UID      UID
	ModSeq   ModSeq
	OldFlags Flags
	NewFlags Flags
}

// Changed reports whether the update altered the flag set.
func (u UpdatedFlags) Changed() bool {
	return !u.OldFlags.Equal(u.NewFlags)
}

// MailboxCounters holds the per-mailbox aggregates. It is also used as a
// delta for CounterStore.AddCounters.
type MailboxCounters struct {
	Count  int64
	Unseen int64
}

// CountersFor returns the delta contributed by a single message with the
// given flags: one message, and one unseen message unless it is SEEN.
func CountersFor(flags Flags) MailboxCounters {
	c := MailboxCounters{Count: 1}
	if !flags.Seen() {
		c.Unseen = 1
	}
	return c
}

// Negate returns the opposite delta.
func (c MailboxCounters) Negate() MailboxCounters {
	return MailboxCounters{Count: -c.Count, Unseen: -c.Unseen}
}

// IsZero reports whether the delta changes nothing.
func (c MailboxCounters) IsZero() bool {
	return c.Count == 0 && c.Unseen == 0
}

// SequenceKind names a per-mailbox sequence.
type SequenceKind int

// Sequence kinds.
const (
	SequenceUID SequenceKind = iota
	SequenceModSeq
)

func (k SequenceKind) String() string {
	switch k {
	case SequenceUID:
		return "uid"
	case SequenceModSeq:
		return "modseq"
	default:
		return "unknown"
	}
}
