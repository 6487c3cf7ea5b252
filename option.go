package imapstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/imapstore/flagupdate"
	"github.com/rbaliyan/imapstore/mapper"
	"github.com/rbaliyan/imapstore/sequence"
	"github.com/rbaliyan/imapstore/store"
)

// Default configuration values.
const (
	DefaultUIDMaxRetries        = sequence.DefaultMaxRetries
	DefaultModSeqMaxRetries     = sequence.DefaultMaxRetries
	DefaultFlagUpdateMaxRetries = flagupdate.DefaultMaxRetries
	DefaultScanBatchSize        = mapper.DefaultScanBatchSize
	DefaultServiceName          = "imapstore"
)

// options holds service configuration.
type options struct {
	backend store.Backend
	release func(ctx context.Context) error // closes clients owned by the service
	logger  *slog.Logger

	// Retry bounds
	uidMaxRetries        int
	modSeqMaxRetries     int
	flagUpdateMaxRetries int
	scanBatchSize        int

	limits MessageLimits

	// Mailbox cache
	cacheEnabled bool
	cacheTTL     time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures fail the operation
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MessageAdded"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:               slog.Default(),
		uidMaxRetries:        DefaultUIDMaxRetries,
		modSeqMaxRetries:     DefaultModSeqMaxRetries,
		flagUpdateMaxRetries: DefaultFlagUpdateMaxRetries,
		scanBatchSize:        DefaultScanBatchSize,
		limits:               DefaultLimits(),
		cacheEnabled:         true,
		serviceName:          DefaultServiceName,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the service.
type Option func(*options)

// WithBackend sets the storage backend. Required.
func WithBackend(b store.Backend) Option {
	return func(o *options) {
		if b != nil {
			o.backend = b
		}
	}
}

// withRelease registers a function run after the backend is closed.
func withRelease(fn func(ctx context.Context) error) Option {
	return func(o *options) {
		o.release = fn
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithUIDMaxRetries bounds the compare-and-swap attempts of one UID allocation.
func WithUIDMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.uidMaxRetries = n
		}
	}
}

// WithModSeqMaxRetries bounds the compare-and-swap attempts of one ModSeq allocation.
func WithModSeqMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.modSeqMaxRetries = n
		}
	}
}

// WithFlagUpdateMaxRetries bounds the conditional write attempts of one
// message during a flag update.
func WithFlagUpdateMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flagUpdateMaxRetries = n
		}
	}
}

// WithScanBatchSize sets how many rows a range iteration fetches per backend call.
func WithScanBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.scanBatchSize = n
		}
	}
}

// WithMessageLimits sets the limits checked before appends and flag updates.
// Default is DefaultLimits(). A zero field disables that check.
func WithMessageLimits(l MessageLimits) Option {
	return func(o *options) {
		if l.MaxMessageSize >= 0 && l.MaxKeywords >= 0 && l.MaxKeywordLength >= 0 {
			o.limits = l
		}
	}
}

// WithCache enables or disables the mailbox cache.
// Default is enabled.
func WithCache(enabled bool) Option {
	return func(o *options) {
		o.cacheEnabled = enabled
	}
}

// WithCacheTTL expires cached mailboxes after d. Zero keeps them until invalidated.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.cacheTTL = d
		}
	}
}

// WithTracing enables or disables tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for telemetry and the event bus.
// Default is "imapstore".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithEventErrorsFatal makes event publishing failures fail the operation
// that triggered them. The storage change itself is not rolled back.
// Default is false: failures are logged and passed to the failure handler.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets a custom event transport.
// Takes precedence over WithRedisClient.
// If neither is provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events over Redis Streams using client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publish failures.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		o.onEventPublishFailure = fn
	}
}
