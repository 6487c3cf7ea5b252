package imapstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
	"gopkg.in/yaml.v2"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/bolt"
	"github.com/rbaliyan/imapstore/store/cassandra"
	"github.com/rbaliyan/imapstore/store/memory"
	storemongo "github.com/rbaliyan/imapstore/store/mongo"
	"github.com/rbaliyan/imapstore/store/postgres"
	storeredis "github.com/rbaliyan/imapstore/store/redis"
)

// Backend drivers understood by BackendConfig.
const (
	DriverMemory    = "memory"
	DriverBolt      = "bolt"
	DriverRedis     = "redis"
	DriverMongo     = "mongo"
	DriverPostgres  = "postgres"
	DriverCassandra = "cassandra"
)

// Config is the YAML form of the service configuration.
//
//	backend:
//	  driver: redis
//	  address: localhost:6379
//	sequence:
//	  uid_max_retries: 100000
//	flag_update:
//	  max_retries: 10000
//	cache:
//	  enabled: true
//	  ttl: 5m
type Config struct {
	ServiceName string           `yaml:"service_name"`
	Backend     BackendConfig    `yaml:"backend"`
	Sequence    SequenceConfig   `yaml:"sequence"`
	FlagUpdate  FlagUpdateConfig `yaml:"flag_update"`
	Scan        ScanConfig       `yaml:"scan"`
	Cache       CacheConfig      `yaml:"cache"`
	Limits      LimitsConfig     `yaml:"limits"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
}

// BackendConfig selects and addresses the storage backend.
type BackendConfig struct {
	Driver string `yaml:"driver"`

	// bolt: database file. postgres: DSN. mongo: URI.
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
	URI  string `yaml:"uri"`

	// redis: host:port. cassandra: comma separated hosts.
	Address  string `yaml:"address"`
	Hosts    string `yaml:"hosts"`
	Keyspace string `yaml:"keyspace"`
	Database string `yaml:"database"`

	// Key, table or collection prefix, depending on the driver.
	Prefix  string `yaml:"prefix"`
	Timeout string `yaml:"timeout"`
}

type SequenceConfig struct {
	UIDMaxRetries    int `yaml:"uid_max_retries"`
	ModSeqMaxRetries int `yaml:"modseq_max_retries"`
}

type FlagUpdateConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

type ScanConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type CacheConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool  `yaml:"enabled"`
	TTL     string `yaml:"ttl"`
}

// LimitsConfig overrides individual DefaultLimits fields. Zero keeps the default.
type LimitsConfig struct {
	MaxMessageSize   int64 `yaml:"max_message_size"`
	MaxKeywords      int   `yaml:"max_keywords"`
	MaxKeywordLength int   `yaml:"max_keyword_length"`
}

func (l LimitsConfig) limits() MessageLimits {
	out := DefaultLimits()
	if l.MaxMessageSize > 0 {
		out.MaxMessageSize = l.MaxMessageSize
	}
	if l.MaxKeywords > 0 {
		out.MaxKeywords = l.MaxKeywords
	}
	if l.MaxKeywordLength > 0 {
		out.MaxKeywordLength = l.MaxKeywordLength
	}
	return out
}

type TelemetryConfig struct {
	Tracing bool `yaml:"tracing"`
	Metrics bool `yaml:"metrics"`
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML document and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the document without connecting anywhere.
func (c *Config) Validate() error {
	switch c.Backend.Driver {
	case "", DriverMemory, DriverBolt, DriverRedis, DriverMongo, DriverPostgres, DriverCassandra:
	default:
		return fmt.Errorf("%w: unknown backend driver %q", ErrInvalidConfig, c.Backend.Driver)
	}
	if _, err := parseDuration("cache.ttl", c.Cache.TTL); err != nil {
		return err
	}
	if _, err := parseDuration("backend.timeout", c.Backend.Timeout); err != nil {
		return err
	}
	if c.Sequence.UIDMaxRetries < 0 || c.Sequence.ModSeqMaxRetries < 0 ||
		c.FlagUpdate.MaxRetries < 0 || c.Scan.BatchSize < 0 ||
		c.Limits.MaxMessageSize < 0 || c.Limits.MaxKeywords < 0 || c.Limits.MaxKeywordLength < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidConfig)
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s: invalid duration %q", ErrInvalidConfig, field, s)
	}
	return d, nil
}

// Options translates the document into service options. The backend is
// not included; see BackendConfig.Open. Zero values keep the defaults.
func (c *Config) Options() []Option {
	opts := []Option{
		WithServiceName(c.ServiceName),
		WithUIDMaxRetries(c.Sequence.UIDMaxRetries),
		WithModSeqMaxRetries(c.Sequence.ModSeqMaxRetries),
		WithFlagUpdateMaxRetries(c.FlagUpdate.MaxRetries),
		WithScanBatchSize(c.Scan.BatchSize),
		WithMessageLimits(c.Limits.limits()),
		WithTracing(c.Telemetry.Tracing),
		WithMetrics(c.Telemetry.Metrics),
	}
	if c.Cache.Enabled != nil {
		opts = append(opts, WithCache(*c.Cache.Enabled))
	}
	if ttl, err := parseDuration("cache.ttl", c.Cache.TTL); err == nil && ttl > 0 {
		opts = append(opts, WithCacheTTL(ttl))
	}
	return opts
}

// Release closes a client created by BackendConfig.Open.
type Release func(ctx context.Context) error

func noRelease(context.Context) error { return nil }

// Open creates the configured backend. Drivers that take a client create
// one from the address fields; release closes it and must be called after
// the backend is closed. An empty driver opens the memory backend.
func (b BackendConfig) Open(logger *slog.Logger) (backend store.Backend, release Release, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := parseDuration("backend.timeout", b.Timeout)
	if err != nil {
		return nil, nil, err
	}

	switch b.Driver {
	case "", DriverMemory:
		return memory.New(), noRelease, nil

	case DriverBolt:
		if b.Path == "" {
			return nil, nil, fmt.Errorf("%w: bolt backend needs a path", ErrInvalidConfig)
		}
		opts := []bolt.Option{bolt.WithLogger(logger)}
		if timeout > 0 {
			opts = append(opts, bolt.WithOpenTimeout(timeout))
		}
		return bolt.New(b.Path, opts...), noRelease, nil

	case DriverRedis:
		if b.Address == "" {
			return nil, nil, fmt.Errorf("%w: redis backend needs an address", ErrInvalidConfig)
		}
		client := redis.NewClient(&redis.Options{Addr: b.Address})
		opts := []storeredis.Option{storeredis.WithLogger(logger), storeredis.WithKeyPrefix(b.Prefix)}
		if timeout > 0 {
			opts = append(opts, storeredis.WithTimeout(timeout))
		}
		return storeredis.New(client, opts...), func(context.Context) error { return client.Close() }, nil

	case DriverMongo:
		if b.URI == "" {
			return nil, nil, fmt.Errorf("%w: mongo backend needs a uri", ErrInvalidConfig)
		}
		client, err := mongo.Connect(mongoopts.Client().ApplyURI(b.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		opts := []storemongo.Option{
			storemongo.WithLogger(logger),
			storemongo.WithDatabase(b.Database),
			storemongo.WithCollectionPrefix(b.Prefix),
		}
		if timeout > 0 {
			opts = append(opts, storemongo.WithTimeout(timeout))
		}
		return storemongo.New(client, opts...), client.Disconnect, nil

	case DriverPostgres:
		if b.DSN == "" {
			return nil, nil, fmt.Errorf("%w: postgres backend needs a dsn", ErrInvalidConfig)
		}
		db, err := sqlx.Open("postgres", b.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		opts := []postgres.Option{postgres.WithLogger(logger), postgres.WithTablePrefix(b.Prefix)}
		if timeout > 0 {
			opts = append(opts, postgres.WithTimeout(timeout))
		}
		return postgres.New(db, opts...), func(context.Context) error { return db.Close() }, nil

	case DriverCassandra:
		if b.Hosts == "" || b.Keyspace == "" {
			return nil, nil, fmt.Errorf("%w: cassandra backend needs hosts and a keyspace", ErrInvalidConfig)
		}
		cluster := gocql.NewCluster(strings.Split(b.Hosts, ",")...)
		cluster.Keyspace = b.Keyspace
		cluster.Consistency = gocql.Quorum
		if timeout > 0 {
			cluster.Timeout = timeout
		}
		session, err := cluster.CreateSession()
		if err != nil {
			return nil, nil, fmt.Errorf("connect cassandra: %w", err)
		}
		opts := []cassandra.Option{cassandra.WithLogger(logger)}
		if timeout > 0 {
			opts = append(opts, cassandra.WithTimeout(timeout))
		}
		closeSession := func(context.Context) error {
			session.Close()
			return nil
		}
		return cassandra.New(session, opts...), closeSession, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown backend driver %q", ErrInvalidConfig, b.Driver)
}

// NewServiceFromConfig opens the configured backend and creates a service
// over it. opts are applied after the document's own options. Clients
// created for the backend are closed by Service.Close.
func NewServiceFromConfig(ctx context.Context, cfg *Config, opts ...Option) (Service, error) {
	o := newOptions(opts...)
	backend, release, err := cfg.Backend.Open(o.logger)
	if err != nil {
		return nil, err
	}
	all := append(cfg.Options(), WithBackend(backend), withRelease(release))
	svc, err := NewService(append(all, opts...)...)
	if err != nil {
		_ = release(ctx)
		return nil, err
	}
	return svc, nil
}
