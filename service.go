package imapstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"go.opentelemetry.io/otel/attribute"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"

	"github.com/rbaliyan/imapstore/cache"
	"github.com/rbaliyan/imapstore/mapper"
	"github.com/rbaliyan/imapstore/store"
	storeotel "github.com/rbaliyan/imapstore/store/otel"
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service wires a backend to the mailbox, message and subscription mappers.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect connects the backend and initializes the event bus.
	Connect(ctx context.Context) error
	// Close closes the event bus and the backend.
	Close(ctx context.Context) error

	// Mailboxes returns the mailbox mapper, cached unless WithCache(false).
	Mailboxes() store.MailboxMapper
	// Messages returns the message mapper.
	Messages() store.MessageMapper
	// Subscriptions returns the subscription mapper, or ErrUnsupported
	// when the backend does not store subscriptions.
	Subscriptions() (store.SubscriptionMapper, error)

	// Cache returns the mailbox cache, nil when caching is disabled.
	// Collaborators that change mailbox state outside Mailboxes() call its
	// Invalidate hooks.
	Cache() *cache.MailboxMapper
	// Metadata returns the per-mailbox metadata cache, nil when caching
	// is disabled. Entries are dropped when their mailbox is saved or deleted
	// through Mailboxes().
	Metadata() *cache.MetadataCache

	// Events returns per-service event instances for subscribing and publishing.
	// It is nil before Connect.
	Events() *ServiceEvents
}

// Service states
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
)

type service struct {
	state   int32
	backend store.Backend
	logger  *slog.Logger
	opts    *options
	otel    *otelInstrumentation

	cache         *cache.MailboxMapper
	mailboxes     *mailboxes
	messages      *messages
	subscriptions store.SubscriptionMapper

	eventBus *event.Bus
	events   atomic.Pointer[ServiceEvents]
}

// NewService creates a new service over the configured backend.
// Call Connect() before using the mappers.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.backend == nil {
		return nil, ErrBackendRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	backend := o.backend
	if o.tracingEnabled || o.metricsEnabled {
		sopts := []storeotel.Option{
			storeotel.WithAttributes(attribute.String("service.name", o.serviceName)),
			storeotel.WithTracerProvider(o.tracerProvider),
			storeotel.WithMeterProvider(o.meterProvider),
		}
		if !o.tracingEnabled {
			sopts = append(sopts, storeotel.WithoutTracing())
		}
		if !o.metricsEnabled {
			sopts = append(sopts, storeotel.WithoutMetrics())
		}
		instrumented, err := storeotel.New(backend, sopts...)
		if err != nil {
			return nil, fmt.Errorf("instrument backend: %w", err)
		}
		backend = instrumented
	}

	s := &service{
		backend: backend,
		logger:  o.logger,
		opts:    o,
		otel:    otelInstr,
	}

	var mbm store.MailboxMapper = mapper.NewMailboxMapper(backend, mapper.WithLogger(o.logger))
	if o.cacheEnabled {
		s.cache = cache.NewMailboxMapper(mbm,
			cache.WithLogger(o.logger),
			cache.WithTTL(o.cacheTTL),
		)
		mbm = s.cache
	}
	s.mailboxes = &mailboxes{s: s, next: mbm}

	s.messages = &messages{s: s, next: mapper.NewMessageMapper(backend,
		mapper.WithLogger(o.logger),
		mapper.WithUIDMaxRetries(o.uidMaxRetries),
		mapper.WithModSeqMaxRetries(o.modSeqMaxRetries),
		mapper.WithFlagUpdateMaxRetries(o.flagUpdateMaxRetries),
		mapper.WithScanBatchSize(o.scanBatchSize),
	)}

	// The instrumented backend does not forward the optional capability.
	if subs, ok := o.backend.(store.SubscriptionStore); ok {
		s.subscriptions = mapper.NewSubscriptionMapper(subs)
	}

	return s, nil
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

func (s *service) checkConnected() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Connect connects the backend and initializes the event bus.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.backend.Connect(ctx); err != nil {
		return fmt.Errorf("connect backend: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		_ = s.backend.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("imapstore service connected", "service", s.opts.serviceName)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
func (s *service) initEventBus(ctx context.Context) error {
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}

	events := newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, events); err != nil {
		_ = bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	s.eventBus = bus
	s.events.Store(events)
	return nil
}

// Close closes the event bus and the backend.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// The noop transport holds no resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.backend.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}

	if s.opts.release != nil {
		if err := s.opts.release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release backend clients: %w", err))
		}
	}

	s.logger.Info("imapstore service closed", "service", s.opts.serviceName)
	return errors.Join(errs...)
}

func (s *service) Mailboxes() store.MailboxMapper {
	return s.mailboxes
}

func (s *service) Messages() store.MessageMapper {
	return s.messages
}

func (s *service) Subscriptions() (store.SubscriptionMapper, error) {
	if s.subscriptions == nil {
		return nil, ErrUnsupported
	}
	return s.subscriptions, nil
}

func (s *service) Cache() *cache.MailboxMapper {
	return s.cache
}

func (s *service) Metadata() *cache.MetadataCache {
	if s.cache == nil {
		return nil
	}
	return s.cache.Metadata()
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events.Load()
}
