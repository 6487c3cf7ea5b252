package imapstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/imapstore/store"
)

func TestValidateKeyword(t *testing.T) {
	limits := DefaultLimits()
	tests := []struct {
		name    string
		keyword string
		wantErr bool
	}{
		{"simple", "$Forwarded", false},
		{"junk label", "$Junk", false},
		{"digits", "label-42", false},
		{"empty", "", true},
		{"space", "two words", true},
		{"paren", "(x", true},
		{"bracket", "x]", true},
		{"wildcard", "a*", true},
		{"percent", "100%", true},
		{"quote", `"q"`, true},
		{"backslash", `\Seen`, true},
		{"control", "a\x01", true},
		{"non-ascii", "ünicode", true},
		{"too long", strings.Repeat("a", DefaultMaxKeywordLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyword(tt.keyword, limits)
			if tt.wantErr && !errors.Is(err, ErrInvalidKeyword) {
				t.Errorf("expected ErrInvalidKeyword, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	limits := MessageLimits{MaxMessageSize: 10, MaxKeywords: 2, MaxKeywordLength: 8}

	t.Run("nil", func(t *testing.T) {
		if err := ValidateMessage(nil, limits); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("expected ErrInvalidMessage, got %v", err)
		}
	})

	t.Run("too large by content", func(t *testing.T) {
		msg := &store.Message{Content: []byte("01234567890")}
		if err := ValidateMessage(msg, limits); !errors.Is(err, ErrMessageTooLarge) {
			t.Errorf("expected ErrMessageTooLarge, got %v", err)
		}
	})

	t.Run("too large by size", func(t *testing.T) {
		msg := &store.Message{Size: 11}
		if err := ValidateMessage(msg, limits); !errors.Is(err, ErrMessageTooLarge) {
			t.Errorf("expected ErrMessageTooLarge, got %v", err)
		}
	})

	t.Run("too many keywords", func(t *testing.T) {
		msg := &store.Message{Flags: store.NewFlags(0, "a", "b", "c")}
		if err := ValidateMessage(msg, limits); !errors.Is(err, ErrInvalidKeyword) {
			t.Errorf("expected ErrInvalidKeyword, got %v", err)
		}
	})

	t.Run("valid", func(t *testing.T) {
		msg := &store.Message{Content: []byte("hi"), Flags: store.NewFlags(store.FlagSeen, "$Label1")}
		if err := ValidateMessage(msg, limits); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("zero limits disable checks", func(t *testing.T) {
		msg := &store.Message{Content: make([]byte, 1024), Flags: store.NewFlags(0, strings.Repeat("k", 1000))}
		if err := ValidateMessage(msg, MessageLimits{}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestServiceRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, WithMessageLimits(MessageLimits{MaxMessageSize: 4}))

	mb := &store.Mailbox{Path: store.NewPath("#private", "heidi", "INBOX")}
	if err := svc.Mailboxes().Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := svc.Messages().Add(ctx, mb, &store.Message{Content: []byte("too big")}); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("Add: expected ErrMessageTooLarge, got %v", err)
	}
	if last, _ := svc.Messages().LastUID(ctx, mb); last != 0 {
		t.Errorf("rejected append allocated UID %d", last)
	}

	md, err := svc.Messages().Add(ctx, mb, &store.Message{Content: []byte("ok")})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	_, err = svc.Messages().UpdateFlags(ctx, mb, store.SingleMessage(md.UID), store.AddFlags(store.NewFlags(0, "bad keyword")))
	if !errors.Is(err, ErrInvalidKeyword) {
		t.Errorf("UpdateFlags: expected ErrInvalidKeyword, got %v", err)
	}
	if hi, _ := svc.Messages().HighestModSeq(ctx, mb); hi != 1 {
		t.Errorf("rejected flag update changed HighestModSeq to %d", hi)
	}
}
