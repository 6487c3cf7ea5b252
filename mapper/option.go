package mapper

import (
	"log/slog"

	"github.com/rbaliyan/imapstore/flagupdate"
	"github.com/rbaliyan/imapstore/sequence"
)

// DefaultScanBatchSize is the number of rows fetched per backend scan.
const DefaultScanBatchSize = 256

type options struct {
	logger            *slog.Logger
	uidMaxRetries     int
	modSeqMaxRetries  int
	flagUpdateRetries int
	scanBatchSize     int
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:            slog.Default(),
		uidMaxRetries:     sequence.DefaultMaxRetries,
		modSeqMaxRetries:  sequence.DefaultMaxRetries,
		flagUpdateRetries: flagupdate.DefaultMaxRetries,
		scanBatchSize:     DefaultScanBatchSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a mapper.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithUIDMaxRetries bounds the retries of one UID allocation.
func WithUIDMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.uidMaxRetries = n
		}
	}
}

// WithModSeqMaxRetries bounds the retries of one ModSeq allocation.
func WithModSeqMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.modSeqMaxRetries = n
		}
	}
}

// WithFlagUpdateMaxRetries bounds the conditional-write retries per message
// of a flag update or delete.
func WithFlagUpdateMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.flagUpdateRetries = n
		}
	}
}

// WithScanBatchSize sets how many rows FindInRange fetches per backend call.
func WithScanBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.scanBatchSize = n
		}
	}
}
