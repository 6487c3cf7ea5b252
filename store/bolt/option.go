package bolt

import (
	"log/slog"
	"time"
)

// DefaultOpenTimeout bounds the wait for the file lock on Connect.
const DefaultOpenTimeout = time.Second

type options struct {
	logger      *slog.Logger
	openTimeout time.Duration
	noSync      bool
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:      slog.Default(),
		openTimeout: DefaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a bolt store.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOpenTimeout sets how long Connect waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(o *options) {
		o.noSync = noSync
	}
}
