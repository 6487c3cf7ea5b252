package mongo

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/storetest"
)

// newTestStore connects to the server named by IMAPSTORE_MONGO_URI and
// uses a throwaway database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("IMAPSTORE_MONGO_URI")
	if uri == "" {
		t.Skip("IMAPSTORE_MONGO_URI not set")
	}

	client, err := mongo.Connect(mongoopts.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	dbName := "imapstore_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	t.Cleanup(func() {
		ctx := context.Background()
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	s := New(client, WithDatabase(dbName))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return newTestStore(t) })
}

func TestOptions(t *testing.T) {
	o := newOptions(WithDatabase(""), WithTimeout(-1), WithCollectionPrefix("x_"), WithLogger(nil))
	if o.database != DefaultDatabase {
		t.Errorf("database = %q", o.database)
	}
	if o.timeout != DefaultTimeout {
		t.Errorf("timeout = %v", o.timeout)
	}
	if o.collectionPrefix != "x_" {
		t.Errorf("collection prefix = %q", o.collectionPrefix)
	}
	if o.logger == nil {
		t.Error("logger should default")
	}
}

func TestNotConnected(t *testing.T) {
	s := New(nil)
	if err := s.Connect(context.Background()); err == nil {
		t.Error("Connect without a client should fail")
	}
	if _, err := s.GetMessage(context.Background(), "mb", 1); !store.IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
