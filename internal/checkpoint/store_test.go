package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEmbeddedNATS runs an in-process JetStream server for the test.
func startEmbeddedNATS(t *testing.T) *nats.Conn {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready within timeout")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Timeout(2*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("connect to embedded NATS: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func newKVStore(t *testing.T) *KVStore {
	t.Helper()
	nc := startEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	s, err := OpenKVStore(context.Background(), js, "velocity-test", "bandit-state")
	require.NoError(t, err)
	return s
}

// storeFactories builds each backend against fresh storage.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "state.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			return s
		},
		"nats": func(t *testing.T) Store { return newKVStore(t) },
	}
}

func TestStores_Conformance(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })

			_, err := s.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, []byte("first")))
			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), got)

			require.NoError(t, s.Save(ctx, []byte("second")))
			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("second"), got, "save replaces")
		})
	}
}

func TestStores_SnapshotRoundTrip(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })

			want := sampleSnapshot()
			data, err := Encode(want, name == "nats")
			require.NoError(t, err)
			require.NoError(t, s.Save(ctx, data))

			raw, err := s.Load(ctx)
			require.NoError(t, err)
			got, err := Decode(raw, 3)
			require.NoError(t, err)
			assert.Equal(t, want.Arms, got.Arms)
		})
	}
}

func TestMemoryStore_CopiesData(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Save(ctx, buf))
	buf[0] = 'z'

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Save(ctx, []byte("x")), context.Canceled)
	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), []byte("{}")))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Save(context.Background(), []byte("{}")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_SaveFailureKeepsOldFile(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("needs a non-root unix user to make the directory read-only")
	}
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), []byte("old")))

	require.NoError(t, os.Chmod(dir, 0500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0700) })

	assert.Error(t, s.Save(context.Background(), []byte("new")))
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	_, err := NewFileStore("  ")
	assert.Error(t, err)
}

func TestOpenSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

func TestEnsureBucket_OpensExisting(t *testing.T) {
	nc := startEmbeddedNATS(t)
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	ctx := context.Background()

	cfg := jetstream.KeyValueConfig{Bucket: "shared", Storage: jetstream.MemoryStorage}
	first, err := EnsureBucket(ctx, js, cfg, 3)
	require.NoError(t, err)
	_, err = first.Put(ctx, "k", []byte("v"))
	require.NoError(t, err)

	// A differing config makes CreateKeyValue fail with ErrBucketExists.
	cfg.Description = "second writer"
	second, err := EnsureBucket(ctx, js, cfg, 3)
	require.NoError(t, err)
	entry, err := second.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value())
}

func TestKVStore_DeletedKeyIsNotFound(t *testing.T) {
	s := newKVStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []byte("x")))
	require.NoError(t, s.kv.Delete(ctx, s.key))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewKVStore_Validation(t *testing.T) {
	_, err := NewKVStore(nil, "k")
	assert.Error(t, err)
}
