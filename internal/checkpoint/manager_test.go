package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// slowStore blocks until the context ends.
type slowStore struct{ MemoryStore }

func (s *slowStore) Save(ctx context.Context, _ []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *slowStore) Load(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingStore struct{ MemoryStore }

var errDisk = errors.New("disk on fire")

func (s *failingStore) Save(context.Context, []byte) error { return errDisk }

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewManager(NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestManager_SaveLoad(t *testing.T) {
	for _, compress := range []bool{false, true} {
		m, err := NewManager(NewMemoryStore(), zap.NewNop(), WithCompression(compress))
		require.NoError(t, err)
		ctx := context.Background()

		_, err = m.Load(ctx, 3)
		require.ErrorIs(t, err, ErrNotFound)

		want := sampleSnapshot()
		require.NoError(t, m.Save(ctx, want))

		got, err := m.Load(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, want.Arms, got.Arms)

		raw, err := m.LoadRaw(ctx)
		require.NoError(t, err)
		assert.Equal(t, compress, len(raw) >= 4 && string(raw[:4]) == string(zstdMagic))
		require.NoError(t, m.Close())
	}
}

func TestManager_LoadCorrupt(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), []byte("not a checkpoint")))
	m, err := NewManager(store, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Load(context.Background(), 6)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_LoadDimensionMismatch(t *testing.T) {
	m, err := NewManager(NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background(), sampleSnapshot()))

	_, err = m.Load(context.Background(), 6)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestManager_Timeout(t *testing.T) {
	m, err := NewManager(&slowStore{}, zap.NewNop(), WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	err = m.Save(context.Background(), sampleSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = m.Load(context.Background(), 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_SaveErrorWrapped(t *testing.T) {
	m, err := NewManager(&failingStore{}, zap.NewNop())
	require.NoError(t, err)

	err = m.Save(context.Background(), sampleSnapshot())
	assert.ErrorIs(t, err, errDisk)
}

func TestManager_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	m, err := NewManager(NewMemoryStore(), zap.NewNop(), WithTracerProvider(tp))
	require.NoError(t, err)

	require.NoError(t, m.Save(context.Background(), sampleSnapshot()))
	_, err = m.Load(context.Background(), 3)
	require.NoError(t, err)

	names := []string{}
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"checkpoint.Save", "checkpoint.Load"}, names)
}
