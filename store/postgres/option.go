package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultTablePrefix = "imap_"
	DefaultTimeout     = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:  DefaultTablePrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTablePrefix sets the prefix of every table name.
// The prefix is interpolated into SQL and must be a trusted identifier.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout sets the operation timeout.
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

func (o *options) table(name string) string {
	return o.prefix + name
}
