package sequence

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/imapstore/retry"
)

// DefaultMaxRetries bounds the compare-and-swap attempts of one allocation.
const DefaultMaxRetries = 100000

type options struct {
	logger *slog.Logger
	retry  retry.Config
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
		retry:  retry.DefaultConfig(DefaultMaxRetries),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures an Allocator.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxRetries sets how many times a lost race is retried.
// Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retry.MaxRetries = n
		}
	}
}

// WithBackoff sleeps between retries, starting at initial and doubling up
// to maxBackoff. By default retries are immediate.
func WithBackoff(initial, maxBackoff time.Duration) Option {
	return func(o *options) {
		if initial > 0 {
			o.retry.InitialBackoff = initial
			o.retry.MaxBackoff = maxBackoff
			o.retry.Jitter = 0.1
		}
	}
}
