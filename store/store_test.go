package store

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestFlagUpdateApply(t *testing.T) {
	current := NewFlags(FlagRecent|FlagSeen, "$Important")

	tests := []struct {
		name   string
		update FlagUpdate
		want   Flags
	}{
		{"replace", ReplaceFlags(NewFlags(FlagFlagged)), NewFlags(FlagFlagged)},
		{"add system", AddFlags(NewFlags(FlagFlagged)), NewFlags(FlagRecent|FlagSeen|FlagFlagged, "$Important")},
		{"add keyword", AddFlags(NewFlags(0, "$Work")), NewFlags(FlagRecent|FlagSeen, "$Important", "$Work")},
		{"add existing", AddFlags(NewFlags(FlagSeen)), current},
		{"remove system", RemoveFlags(NewFlags(FlagRecent)), NewFlags(FlagSeen, "$Important")},
		{"remove keyword", RemoveFlags(NewFlags(0, "$Important")), NewFlags(FlagRecent | FlagSeen)},
		{"remove absent", RemoveFlags(NewFlags(FlagDeleted)), current},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.update.Apply(current)
			if !got.Equal(tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("does not alias input", func(t *testing.T) {
		in := NewFlags(0, "a")
		out := ReplaceFlags(in).Apply(Flags{})
		out.User[0] = "b"
		if in.User[0] != "a" {
			t.Error("Apply modified the update's flags")
		}
	})
}

func TestParseFlags(t *testing.T) {
	f := ParseFlags(`\seen`, `\Deleted`, "custom", "custom", "")
	if !f.Has(FlagSeen | FlagDeleted) {
		t.Errorf("expected seen and deleted, got %v", f)
	}
	if len(f.User) != 1 || f.User[0] != "custom" {
		t.Errorf("expected one keyword, got %v", f.User)
	}
	if got := f.String(); got != `(\Deleted \Seen custom)` {
		t.Errorf("String() = %q", got)
	}
}

func TestPathPattern(t *testing.T) {
	owner := NewPath("#private", "user", "")

	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"mailbox%", "mailbox", true},
		{"mailbox%", "mailbox0", true},
		{"mailbox%", "mailboxFoo", true},
		{"mailbox%", "xmailbox", false},
		{"a%b", "ab", true},
		{"a%b", "axyzb", true},
		{"a%b", "axyzc", false},
		{"%", "", true},
		{"%", "anything", true},
		{"%%x", "x", true},
		{"%x%", "abxcd", true},
		{"a.b", "a.b", true},
		{"a.b", "axb", false},
		{"a(b)*", "a(b)*", true},
		{"INBOX", "INBOX.Sent", false},
		{"a%b", "a\nb", true},
		{"%", "line\nbreak", true},
		{"a.b", "a\nb", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s~%s", tt.pattern, tt.name), func(t *testing.T) {
			p := owner
			p.Name = tt.pattern
			mb := owner
			mb.Name = tt.name
			pattern, err := NewPathPattern(p)
			if err != nil {
				t.Fatalf("NewPathPattern: %v", err)
			}
			if got := pattern.Match(mb); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("confined to owner", func(t *testing.T) {
		pattern, err := NewPathPattern(NewPath("#private", "user", "%"))
		if err != nil {
			t.Fatalf("NewPathPattern: %v", err)
		}
		if pattern.Match(NewPath("#private", "other", "INBOX")) {
			t.Error("matched another user's mailbox")
		}
		if pattern.Match(NewPath("#shared", "user", "INBOX")) {
			t.Error("matched another namespace")
		}
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		_, err := NewPathPattern(NewPath("#private", "user", "bad\xff%"))
		if !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("NewPathPattern = %v, want ErrInvalidPattern", err)
		}
	})
}

func TestPathIsChildOf(t *testing.T) {
	inbox := NewPath("#private", "user", "INBOX")
	sent := NewPath("#private", "user", "INBOX.Sent")

	if !sent.IsChildOf(inbox, '.') {
		t.Error("INBOX.Sent should be a child of INBOX")
	}
	if inbox.IsChildOf(sent, '.') {
		t.Error("INBOX should not be a child of INBOX.Sent")
	}
	if NewPath("#private", "user", "INBOXES").IsChildOf(inbox, '.') {
		t.Error("INBOXES should not be a child of INBOX")
	}
	if NewPath("#private", "other", "INBOX.Sent").IsChildOf(inbox, '.') {
		t.Error("children must share the owner")
	}
}

func TestMessageRange(t *testing.T) {
	t.Run("contains", func(t *testing.T) {
		if !AllMessages().Contains(1) || !AllMessages().Contains(math.MaxUint64) {
			t.Error("all should contain everything")
		}
		if MessagesFrom(5).Contains(4) || !MessagesFrom(5).Contains(5) {
			t.Error("from bounds wrong")
		}
		if !MessagesBetween(2, 4).Contains(4) || MessagesBetween(2, 4).Contains(5) {
			t.Error("interval bounds wrong")
		}
		if !SingleMessage(3).Contains(3) || SingleMessage(3).Contains(4) {
			t.Error("single bounds wrong")
		}
		if !MessagesBetween(5, 2).Empty() {
			t.Error("inverted interval should be empty")
		}
	})

	t.Run("after", func(t *testing.T) {
		r, ok := MessagesBetween(2, 10).After(4)
		if !ok || r != MessagesBetween(5, 10) {
			t.Errorf("After(4) = %v, %v", r, ok)
		}
		if _, ok := MessagesBetween(2, 10).After(10); ok {
			t.Error("nothing should remain after the upper bound")
		}
		r, ok = AllMessages().After(7)
		if !ok || r != MessagesFrom(8) {
			t.Errorf("All.After(7) = %v", r)
		}
		r, ok = MessagesFrom(20).After(7)
		if !ok || r != MessagesFrom(20) {
			t.Errorf("From(20).After(7) = %v", r)
		}
		if _, ok := SingleMessage(3).After(3); ok {
			t.Error("single range should be exhausted")
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("failure wraps driver errors", func(t *testing.T) {
		driver := errors.New("connection reset")
		err := Failure("get message", driver)
		if !IsStoreFailure(err) {
			t.Error("expected ErrStoreFailure")
		}
		if !errors.Is(err, driver) {
			t.Error("expected driver error to be preserved")
		}
	})

	t.Run("failure keeps sentinels", func(t *testing.T) {
		if err := Failure("get", ErrNotFound); err != ErrNotFound {
			t.Errorf("expected ErrNotFound unchanged, got %v", err)
		}
		if Failure("get", nil) != nil {
			t.Error("expected nil")
		}
	})

	t.Run("typed errors", func(t *testing.T) {
		alloc := &AllocationError{MailboxID: "mb", Kind: SequenceUID, Attempts: 3}
		if !IsAllocationExhausted(alloc) {
			t.Error("AllocationError should match ErrAllocationExhausted")
		}
		re := &RetryError{MailboxID: "mb", UID: 7, Attempts: 10}
		if !IsMaxRetriesExceeded(re) {
			t.Error("RetryError should match ErrMaxRetriesExceeded")
		}
		if got := re.Error(); got == "" {
			t.Error("empty message")
		}
	})
}

func TestCountersFor(t *testing.T) {
	if got := CountersFor(NewFlags(FlagRecent)); got != (MailboxCounters{Count: 1, Unseen: 1}) {
		t.Errorf("unseen message: %+v", got)
	}
	if got := CountersFor(NewFlags(FlagSeen)); got != (MailboxCounters{Count: 1}) {
		t.Errorf("seen message: %+v", got)
	}
	if got := CountersFor(Flags{}).Negate(); got != (MailboxCounters{Count: -1, Unseen: -1}) {
		t.Errorf("negate: %+v", got)
	}
}
