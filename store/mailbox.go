package store

import (
	"strconv"
	"strings"
)

// MailboxID identifies a mailbox. It is generated on creation and never changes.
type MailboxID string

func (id MailboxID) String() string {
	return string(id)
}

// Path is the (namespace, owner, name) tuple that locates a mailbox.
// An empty User means the mailbox has no owning user.
type Path struct {
	Namespace string
	User      string
	Name      string
}

// NewPath returns a path.
func NewPath(namespace, user, name string) Path {
	return Path{Namespace: namespace, User: user, Name: name}
}

// SameOwner reports whether both paths share namespace and user.
func (p Path) SameOwner(o Path) bool {
	return p.Namespace == o.Namespace && p.User == o.User
}

// IsChildOf reports whether p is a descendant of parent for the delimiter.
func (p Path) IsChildOf(parent Path, delimiter rune) bool {
	return p.SameOwner(parent) && strings.HasPrefix(p.Name, parent.Name+string(delimiter))
}

// Owner returns the filter selecting every mailbox with the same owner as p.
func (p Path) Owner() *PathFilter {
	return &PathFilter{Namespace: p.Namespace, User: p.User}
}

// Key returns an unambiguous encoding of the path for use as a storage key.
func (p Path) Key() string {
	return strconv.Quote(p.Namespace) + strconv.Quote(p.User) + strconv.Quote(p.Name)
}

func (p Path) String() string {
	if p.User == "" {
		return p.Namespace + ":" + p.Name
	}
	return p.Namespace + ":" + p.User + ":" + p.Name
}

// PathFilter selects mailboxes by owner.
type PathFilter struct {
	Namespace string
	User      string
}

// Match reports whether the path belongs to the filtered owner.
// A nil filter matches everything.
func (f *PathFilter) Match(p Path) bool {
	if f == nil {
		return true
	}
	return f.Namespace == p.Namespace && f.User == p.User
}

// Mailbox is a mailbox record.
type Mailbox struct {
	ID          MailboxID
	Path        Path
	UIDValidity uint32
}

// Clone returns a copy of the mailbox.
func (m *Mailbox) Clone() *Mailbox {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Subscription records that a user subscribed to a mailbox name.
type Subscription struct {
	User    string
	Mailbox string
}
