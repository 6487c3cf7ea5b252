package imapstore

import (
	"errors"
	"testing"

	"github.com/rbaliyan/imapstore/store"
)

func TestErrorsWrapStoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wrapped error
	}{
		{"ErrNotFound", ErrNotFound, store.ErrNotFound},
		{"ErrDuplicateEntry", ErrDuplicateEntry, store.ErrDuplicateEntry},
		{"ErrNotConnected", ErrNotConnected, store.ErrNotConnected},
		{"ErrAlreadyConnected", ErrAlreadyConnected, store.ErrAlreadyConnected},
		{"ErrAllocationExhausted", ErrAllocationExhausted, store.ErrAllocationExhausted},
		{"ErrMaxRetriesExceeded", ErrMaxRetriesExceeded, store.ErrMaxRetriesExceeded},
		{"ErrStoreFailure", ErrStoreFailure, store.ErrStoreFailure},
		{"ErrUnsupported", ErrUnsupported, store.ErrUnsupported},
		{"ErrInvalidPattern", ErrInvalidPattern, store.ErrInvalidPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.wrapped) {
				t.Errorf("expected %v to wrap %v", tt.err, tt.wrapped)
			}
		})
	}

	if errors.Is(ErrBackendRequired, store.ErrNotFound) {
		t.Error("ErrBackendRequired should not wrap a store error")
	}
}
