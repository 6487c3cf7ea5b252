package cache

import (
	"log/slog"
	"time"
)

type options struct {
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a cache.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTTL expires entries after d. Zero (the default) keeps entries until
// they are invalidated.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock sets the time source used for TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// expiry returns the expiry time of an entry stored now.
func (o *options) expiry() time.Time {
	if o.ttl <= 0 {
		return time.Time{}
	}
	return o.now().Add(o.ttl)
}

func (o *options) live(expires time.Time) bool {
	return expires.IsZero() || o.now().Before(expires)
}
