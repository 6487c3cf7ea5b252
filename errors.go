package imapstore

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/imapstore/store"
)

// Sentinel errors for the imapstore package.
// Use errors.Is() to check for these errors.
//
// These errors wrap the corresponding store-level errors. Mappers return
// store errors, so match those with the store sentinels or the store.IsX
// helpers; errors.Is(imapstore.ErrNotFound, store.ErrNotFound) holds.
var (
	// ErrBackendRequired is returned when no backend is configured.
	ErrBackendRequired = errors.New("imapstore: backend is required")

	// ErrNotFound is returned when a mailbox or message cannot be found.
	ErrNotFound = fmt.Errorf("imapstore: %w", store.ErrNotFound)

	// ErrDuplicateEntry is returned when a mailbox path is already taken.
	ErrDuplicateEntry = fmt.Errorf("imapstore: %w", store.ErrDuplicateEntry)

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("imapstore: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("imapstore: %w", store.ErrAlreadyConnected)

	// ErrAllocationExhausted is returned when a UID or ModSeq allocation
	// lost the compare-and-swap race more often than allowed.
	ErrAllocationExhausted = fmt.Errorf("imapstore: %w", store.ErrAllocationExhausted)

	// ErrMaxRetriesExceeded is returned when a flag update could not be
	// applied to a message within the retry bound.
	ErrMaxRetriesExceeded = fmt.Errorf("imapstore: %w", store.ErrMaxRetriesExceeded)

	// ErrStoreFailure is matched by every backend I/O failure.
	ErrStoreFailure = fmt.Errorf("imapstore: %w", store.ErrStoreFailure)

	// ErrUnsupported is returned when the backend lacks an optional capability.
	ErrUnsupported = fmt.Errorf("imapstore: %w", store.ErrUnsupported)

	// ErrInvalidPattern is returned when a FindWithPathLike pattern is malformed.
	ErrInvalidPattern = fmt.Errorf("imapstore: %w", store.ErrInvalidPattern)

	// ErrInvalidConfig is returned when a configuration document is invalid.
	ErrInvalidConfig = errors.New("imapstore: invalid config")

	// ErrInvalidMessage is returned when a message cannot be appended.
	ErrInvalidMessage = errors.New("imapstore: invalid message")

	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
	ErrMessageTooLarge = fmt.Errorf("%w: too large", ErrInvalidMessage)

	// ErrInvalidKeyword is returned for a flag keyword that is not an IMAP atom
	// or exceeds the keyword limits.
	ErrInvalidKeyword = errors.New("imapstore: invalid keyword")
)
