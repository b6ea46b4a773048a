package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/velocity/internal/checkpoint"

// DefaultTimeout bounds each Load and Save.
const DefaultTimeout = 5 * time.Second

// Manager encodes snapshots and moves them in and out of a Store.
type Manager struct {
	store    Store
	logger   *zap.Logger
	timeout  time.Duration
	compress bool

	tracer      trace.Tracer
	saveCounter metric.Int64Counter
	saveBytes   metric.Int64Histogram
	loadCounter metric.Int64Counter
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCompression zstd-compresses saved snapshots. Loading handles both
// forms regardless.
func WithCompression(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.compress = enabled
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ManagerOption {
	return func(m *Manager) {
		m.tracer = tp.Tracer(instrumentationName)
	}
}

// NewManager wraps store.
func NewManager(store Store, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("checkpoint store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for checkpoint manager")
	}

	m := &Manager{
		store:   store,
		logger:  logger,
		timeout: DefaultTimeout,
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initMetrics(otel.Meter(instrumentationName))
	return m, nil
}

func (m *Manager) initMetrics(meter metric.Meter) {
	var err error

	m.saveCounter, err = meter.Int64Counter(
		"velocity.checkpoint.saves_total",
		metric.WithDescription("Checkpoint saves by outcome"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		m.logger.Warn("failed to create save counter", zap.Error(err))
	}

	m.saveBytes, err = meter.Int64Histogram(
		"velocity.checkpoint.size",
		metric.WithDescription("Encoded checkpoint size"),
		metric.WithUnit("By"),
	)
	if err != nil {
		m.logger.Warn("failed to create size histogram", zap.Error(err))
	}

	m.loadCounter, err = meter.Int64Counter(
		"velocity.checkpoint.loads_total",
		metric.WithDescription("Checkpoint loads by outcome"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		m.logger.Warn("failed to create load counter", zap.Error(err))
	}
}

// Save encodes snap and writes it to the store within the timeout.
func (m *Manager) Save(ctx context.Context, snap *Snapshot) error {
	ctx, span := m.tracer.Start(ctx, "checkpoint.Save")
	defer span.End()

	data, err := Encode(snap, m.compress)
	if err != nil {
		m.recordSave(ctx, "encode_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.Int("arms", len(snap.Arms)),
		attribute.Int("bytes", len(data)),
		attribute.Bool("compressed", m.compress),
	)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.store.Save(ctx, data); err != nil {
		m.recordSave(ctx, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save checkpoint: %w", err)
	}

	m.recordSave(ctx, "ok")
	if m.saveBytes != nil {
		m.saveBytes.Record(ctx, int64(len(data)))
	}
	m.logger.Debug("saved checkpoint",
		zap.Int("arms", len(snap.Arms)),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Load reads and decodes the stored snapshot. It returns ErrNotFound when
// nothing has been saved and an error wrapping ErrCorrupt when the blob
// cannot be used with dimension.
func (m *Manager) Load(ctx context.Context, dimension int) (*Snapshot, error) {
	ctx, span := m.tracer.Start(ctx, "checkpoint.Load")
	defer span.End()

	data, err := m.LoadRaw(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.recordLoad(ctx, "not_found")
			return nil, err
		}
		m.recordLoad(ctx, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snap, err := Decode(data, dimension)
	if err != nil {
		m.recordLoad(ctx, "corrupt")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.recordLoad(ctx, "ok")
	span.SetAttributes(attribute.Int("arms", len(snap.Arms)))
	return snap, nil
}

// LoadRaw returns the stored blob without decoding it.
func (m *Manager) LoadRaw(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	data, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) recordSave(ctx context.Context, outcome string) {
	if m.saveCounter != nil {
		m.saveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *Manager) recordLoad(ctx context.Context, outcome string) {
	if m.loadCounter != nil {
		m.loadCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
