package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a mailbox or message cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidPattern is returned when a mailbox name pattern cannot be
	// compiled, e.g. because it is not valid UTF-8.
	ErrInvalidPattern = errors.New("store: invalid pattern")

	// ErrDuplicateEntry is returned when a mailbox path is already taken by another mailbox.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrAllocationExhausted is returned when a sequence allocator lost the
	// compare-and-swap race more times than its configured bound.
	ErrAllocationExhausted = errors.New("store: sequence allocation exhausted")

	// ErrMaxRetriesExceeded is returned when a flag update could not win the
	// conditional write on a message within the configured bound.
	ErrMaxRetriesExceeded = errors.New("store: max retries exceeded")

	// ErrStoreFailure is matched by every I/O or protocol error reported by a backend.
	ErrStoreFailure = errors.New("store: backend failure")

	// ErrUnsupported is returned when a backend lacks an optional capability.
	ErrUnsupported = errors.New("store: unsupported operation")
)

// StoreError wraps an error returned by a backing store client.
// It matches ErrStoreFailure and unwraps to the driver error.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}

// Failure wraps a driver error as a generic store failure.
// Errors that already carry a store sentinel are returned unchanged.
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStoreFailure) ||
		errors.Is(err, ErrDuplicateEntry) || errors.Is(err, ErrNotConnected) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// AllocationError reports an exhausted sequence allocation.
type AllocationError struct {
	MailboxID MailboxID
	Kind      SequenceKind
	Attempts  int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("store: %s allocation for mailbox %s exhausted after %d attempts",
		e.Kind, e.MailboxID, e.Attempts)
}

func (e *AllocationError) Unwrap() error {
	return ErrAllocationExhausted
}

// RetryError reports a flag update or delete that kept losing the
// conditional write.
type RetryError struct {
	MailboxID MailboxID
	UID       UID
	Attempts  int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("store: max retries reached when writing message %d in mailbox %s (%d attempts)",
		e.UID, e.MailboxID, e.Attempts)
}

func (e *RetryError) Unwrap() error {
	return ErrMaxRetriesExceeded
}

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsAllocationExhausted(err error) bool {
	return errors.Is(err, ErrAllocationExhausted)
}

func IsMaxRetriesExceeded(err error) bool {
	return errors.Is(err, ErrMaxRetriesExceeded)
}

func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}
