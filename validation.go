package imapstore

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rbaliyan/imapstore/store"
)

// MessageLimits holds the limits checked before a message or flag change
// reaches the backend. A zero field disables that check.
type MessageLimits struct {
	MaxMessageSize   int64
	MaxKeywords      int
	MaxKeywordLength int
}

// Default limits.
const (
	DefaultMaxMessageSize   = 50 << 20
	DefaultMaxKeywords      = 256
	DefaultMaxKeywordLength = 256
)

// atomSpecials may not appear in a keyword (RFC 3501 atom-specials and "]").
const atomSpecials = "(){ %*\"\\]"

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxMessageSize:   DefaultMaxMessageSize,
		MaxKeywords:      DefaultMaxKeywords,
		MaxKeywordLength: DefaultMaxKeywordLength,
	}
}

// ValidateKeyword checks that keyword is a valid IMAP flag keyword.
func ValidateKeyword(keyword string, limits MessageLimits) error {
	if keyword == "" {
		return fmt.Errorf("%w: empty keyword", ErrInvalidKeyword)
	}
	if limits.MaxKeywordLength > 0 && len(keyword) > limits.MaxKeywordLength {
		return fmt.Errorf("%w: keyword length %d exceeds max %d", ErrInvalidKeyword, len(keyword), limits.MaxKeywordLength)
	}
	if !utf8.ValidString(keyword) {
		return fmt.Errorf("%w: keyword contains invalid UTF-8", ErrInvalidKeyword)
	}
	for _, r := range keyword {
		if r <= 0x20 || r == 0x7f || r > 0x7e {
			return fmt.Errorf("%w: keyword %q contains U+%04X", ErrInvalidKeyword, keyword, r)
		}
		if strings.ContainsRune(atomSpecials, r) {
			return fmt.Errorf("%w: keyword %q contains %q", ErrInvalidKeyword, keyword, r)
		}
	}
	return nil
}

// ValidateFlags checks every keyword of f and their number.
func ValidateFlags(f store.Flags, limits MessageLimits) error {
	if limits.MaxKeywords > 0 && len(f.User) > limits.MaxKeywords {
		return fmt.Errorf("%w: %d keywords exceeds max %d", ErrInvalidKeyword, len(f.User), limits.MaxKeywords)
	}
	for _, kw := range f.User {
		if err := ValidateKeyword(kw, limits); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMessage checks a message about to be appended or copied.
func ValidateMessage(msg *store.Message, limits MessageLimits) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	size := max(msg.Size, int64(len(msg.Content)))
	if msg.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidMessage, msg.Size)
	}
	if limits.MaxMessageSize > 0 && size > limits.MaxMessageSize {
		return fmt.Errorf("%w: size %d exceeds max %d bytes", ErrMessageTooLarge, size, limits.MaxMessageSize)
	}
	return ValidateFlags(msg.Flags, limits)
}
