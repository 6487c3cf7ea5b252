package imapstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/bolt"
	"github.com/rbaliyan/imapstore/store/memory"
)

const fullConfig = `
service_name: imap-test
backend:
  driver: bolt
  path: /var/lib/imapstore/store.db
  timeout: 2s
sequence:
  uid_max_retries: 50
  modseq_max_retries: 60
flag_update:
  max_retries: 70
scan:
  batch_size: 16
cache:
  enabled: false
  ttl: 5m
limits:
  max_keywords: 32
telemetry:
  tracing: true
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(fullConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Backend.Driver != DriverBolt || cfg.Backend.Path != "/var/lib/imapstore/store.db" {
		t.Errorf("backend = %+v", cfg.Backend)
	}

	o := newOptions(cfg.Options()...)
	if o.serviceName != "imap-test" {
		t.Errorf("serviceName = %q", o.serviceName)
	}
	if o.uidMaxRetries != 50 || o.modSeqMaxRetries != 60 || o.flagUpdateMaxRetries != 70 {
		t.Errorf("retries = %d/%d/%d", o.uidMaxRetries, o.modSeqMaxRetries, o.flagUpdateMaxRetries)
	}
	if o.scanBatchSize != 16 {
		t.Errorf("scanBatchSize = %d", o.scanBatchSize)
	}
	if o.cacheEnabled || o.cacheTTL != 5*time.Minute {
		t.Errorf("cache = %v/%v", o.cacheEnabled, o.cacheTTL)
	}
	if o.limits.MaxKeywords != 32 || o.limits.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("limits = %+v", o.limits)
	}
	if !o.tracingEnabled || o.metricsEnabled {
		t.Errorf("telemetry = %v/%v", o.tracingEnabled, o.metricsEnabled)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("backend:\n  driver: memory\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	o := newOptions(cfg.Options()...)
	if o.uidMaxRetries != DefaultUIDMaxRetries || o.flagUpdateMaxRetries != DefaultFlagUpdateMaxRetries {
		t.Errorf("defaults not kept: %d/%d", o.uidMaxRetries, o.flagUpdateMaxRetries)
	}
	if !o.cacheEnabled || o.serviceName != DefaultServiceName {
		t.Errorf("cache=%v service=%q", o.cacheEnabled, o.serviceName)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "backend:\n  driver: memory\n  colour: blue\n"},
		{"unknown driver", "backend:\n  driver: sqlite\n"},
		{"bad ttl", "cache:\n  ttl: soon\n"},
		{"negative timeout", "backend:\n  timeout: -1s\n"},
		{"negative bound", "flag_update:\n  max_retries: -3\n"},
		{"negative limit", "limits:\n  max_message_size: -1\n"},
		{"not yaml", "backend: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.doc)); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imapstore.yaml")
	if err := os.WriteFile(path, []byte(fullConfig), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ServiceName != "imap-test" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestBackendConfigOpen(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		b, release, err := BackendConfig{}.Open(nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if _, ok := b.(*memory.Store); !ok {
			t.Errorf("got %T, want *memory.Store", b)
		}
		if err := release(context.Background()); err != nil {
			t.Errorf("release failed: %v", err)
		}
	})

	t.Run("Bolt", func(t *testing.T) {
		cfg := BackendConfig{Driver: DriverBolt, Path: filepath.Join(t.TempDir(), "store.db")}
		b, _, err := cfg.Open(nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if _, ok := b.(*bolt.Store); !ok {
			t.Errorf("got %T, want *bolt.Store", b)
		}
	})

	for _, cfg := range []BackendConfig{
		{Driver: DriverBolt},
		{Driver: DriverRedis},
		{Driver: DriverMongo},
		{Driver: DriverPostgres},
		{Driver: DriverCassandra, Hosts: "localhost"},
		{Driver: "sqlite"},
	} {
		t.Run("Missing/"+cfg.Driver, func(t *testing.T) {
			if _, _, err := cfg.Open(nil); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewServiceFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{
		Backend: BackendConfig{Driver: DriverBolt, Path: filepath.Join(t.TempDir(), "store.db")},
	}
	svc, err := NewServiceFromConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewServiceFromConfig failed: %v", err)
	}
	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer svc.Close(ctx)

	mb := &store.Mailbox{Path: store.NewPath("#private", "erin", "INBOX")}
	if err := svc.Mailboxes().Save(ctx, mb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	md, err := svc.Messages().Add(ctx, mb, &store.Message{Content: []byte("hi")})
	if err != nil || md.UID != 1 {
		t.Fatalf("Add = %d, %v", md.UID, err)
	}
}
