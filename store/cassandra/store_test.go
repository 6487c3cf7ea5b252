package cassandra

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"

	"github.com/rbaliyan/imapstore/store"
	"github.com/rbaliyan/imapstore/store/storetest"
)

const testKeyspace = "imapstore_test"

// newTestStore connects to the comma-separated hosts in
// IMAPSTORE_CASSANDRA_HOSTS. Tests share one keyspace; the conformance
// suite uses random mailbox IDs.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	hosts := os.Getenv("IMAPSTORE_CASSANDRA_HOSTS")
	if hosts == "" {
		t.Skip("IMAPSTORE_CASSANDRA_HOSTS not set")
	}

	cluster := gocql.NewCluster(strings.Split(hosts, ",")...)
	cluster.Timeout = 10 * time.Second
	admin, err := cluster.CreateSession()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	err = admin.Query(`CREATE KEYSPACE IF NOT EXISTS ` + testKeyspace +
		` WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`).Exec()
	admin.Close()
	if err != nil {
		t.Fatalf("create keyspace: %v", err)
	}

	cluster.Keyspace = testKeyspace
	session, err := cluster.CreateSession()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(session.Close)

	s := New(session)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return newTestStore(t) })
}

func TestOptions(t *testing.T) {
	o := newOptions(WithTimeout(0), WithLogger(nil), WithSerialConsistency(gocql.LocalSerial), WithCreateSchema(false))
	if o.timeout != DefaultTimeout {
		t.Errorf("timeout = %v", o.timeout)
	}
	if o.serialConsistency != gocql.LocalSerial {
		t.Errorf("serial consistency = %v", o.serialConsistency)
	}
	if o.createSchema {
		t.Error("createSchema should be false")
	}
}

func TestConnectWithoutSession(t *testing.T) {
	s := New(nil)
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("Connect without a session should fail")
	}
	if _, _, err := s.LoadSequence(context.Background(), store.SequenceUID, "mb"); !store.IsNotConnected(err) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
