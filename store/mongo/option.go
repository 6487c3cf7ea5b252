package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase = "imapstore"
	DefaultTimeout  = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database         string
	collectionPrefix string
	timeout          time.Duration
	logger           *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database: DefaultDatabase,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollectionPrefix prefixes every collection name, so several stores
// can share one database.
func WithCollectionPrefix(prefix string) Option {
	return func(o *options) {
		o.collectionPrefix = prefix
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
