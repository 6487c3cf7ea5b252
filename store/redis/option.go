package redis

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "imap:"
	DefaultTimeout   = 5 * time.Second
)

// options holds Redis store configuration.
type options struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:  DefaultKeyPrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Redis store.
type Option func(*options)

// WithKeyPrefix sets the prefix of every key written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
