package store

import (
	"fmt"
	"math"
)

// RangeType is the shape of a MessageRange.
type RangeType int

// Range types.
const (
	RangeAll RangeType = iota
	RangeFrom
	RangeInterval
	RangeOne
)

// MessageRange selects messages by UID.
type MessageRange struct {
	Type RangeType
	From UID
	To   UID
}

// AllMessages selects every message.
func AllMessages() MessageRange {
	return MessageRange{Type: RangeAll}
}

// MessagesFrom selects every message with UID >= from.
func MessagesFrom(from UID) MessageRange {
	return MessageRange{Type: RangeFrom, From: from}
}

// MessagesBetween selects UIDs in the closed interval [from, to].
func MessagesBetween(from, to UID) MessageRange {
	return MessageRange{Type: RangeInterval, From: from, To: to}
}

// SingleMessage selects one UID.
func SingleMessage(uid UID) MessageRange {
	return MessageRange{Type: RangeOne, From: uid, To: uid}
}

// Bounds returns the inclusive UID bounds of the range.
func (r MessageRange) Bounds() (lo, hi UID) {
	switch r.Type {
	case RangeFrom:
		return r.From, math.MaxUint64
	case RangeInterval:
		return r.From, r.To
	case RangeOne:
		return r.From, r.From
	default:
		return 0, math.MaxUint64
	}
}

// Contains reports whether uid is in the range.
func (r MessageRange) Contains(uid UID) bool {
	lo, hi := r.Bounds()
	return uid >= lo && uid <= hi
}

// Empty reports whether no UID can be in the range.
func (r MessageRange) Empty() bool {
	lo, hi := r.Bounds()
	return lo > hi
}

// After returns the part of the range strictly above uid.
// The second result is false when nothing remains.
func (r MessageRange) After(uid UID) (MessageRange, bool) {
	if uid == math.MaxUint64 {
		return r, false
	}
	lo, hi := r.Bounds()
	next := max(lo, uid+1)
	if next > hi {
		return r, false
	}
	if hi == math.MaxUint64 {
		return MessagesFrom(next), true
	}
	return MessagesBetween(next, hi), true
}

func (r MessageRange) String() string {
	switch r.Type {
	case RangeFrom:
		return fmt.Sprintf("%d:*", r.From)
	case RangeInterval:
		return fmt.Sprintf("%d:%d", r.From, r.To)
	case RangeOne:
		return fmt.Sprintf("%d", r.From)
	default:
		return "1:*"
	}
}
