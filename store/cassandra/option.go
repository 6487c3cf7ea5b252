package cassandra

import (
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

// DefaultTimeout bounds each query.
const DefaultTimeout = 10 * time.Second

type options struct {
	timeout           time.Duration
	logger            *slog.Logger
	serialConsistency gocql.SerialConsistency
	createSchema      bool
}

func newOptions(opts ...Option) *options {
	o := &options{
		timeout:           DefaultTimeout,
		logger:            slog.Default(),
		serialConsistency: gocql.Serial,
		createSchema:      true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Cassandra store.
type Option func(*options)

// WithTimeout sets the per-query timeout.
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

// WithSerialConsistency sets the consistency of the Paxos phase of
// conditional writes. Use gocql.LocalSerial to keep them within one
// datacenter.
func WithSerialConsistency(c gocql.SerialConsistency) Option {
	return func(o *options) {
		o.serialConsistency = c
	}
}

// WithCreateSchema controls whether Connect creates missing tables.
func WithCreateSchema(create bool) Option {
	return func(o *options) {
		o.createSchema = create
	}
}
