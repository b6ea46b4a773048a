package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("velocity"))
	assert.NotNil(t, tel.Meter("velocity"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.True(t, tel.Health().Healthy)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = ""

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_WithInjectedExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, WithSpanExporter(exp), WithMetricReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)

	_, span := tel.Tracer("velocity/test").Start(context.Background(), "bandit.Rank")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "bandit.Rank", spans[0].Name)

	counter, err := tel.Meter("velocity/test").Int64Counter("velocity.test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	tel.SetLoggerProvider(nil)
}

func TestTelemetry_ShutdownMarksUnhealthy(t *testing.T) {
	tt := NewTestTelemetry()
	require.True(t, tt.IsEnabled())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tt.Shutdown(ctx))

	assert.False(t, tt.Health().Healthy)
	assert.False(t, tt.IsEnabled())
}

func TestTelemetry_SetDegradedRecordsReason(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	tel.setDegraded("meter provider failed: %v", "boom")

	h := tel.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, []string{"meter provider failed: boom"}, h.Reasons)
}

func TestTestTelemetry_Spans(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("velocity/test").Start(context.Background(), "bandit.Update")
	span.SetAttributes(
		attribute.String("arm.id", "alice"),
		attribute.Float64("reward", 1),
		attribute.Int64("dimension", 6),
		attribute.Bool("created", true),
	)
	span.End()

	tt.AssertSpanExists(t, "bandit.Update")
	tt.AssertSpanAttribute(t, "bandit.Update", "arm.id", "alice")
	tt.AssertSpanAttribute(t, "bandit.Update", "reward", 1.0)
	tt.AssertSpanAttribute(t, "bandit.Update", "dimension", int64(6))
	tt.AssertSpanAttribute(t, "bandit.Update", "created", true)
	assert.Nil(t, tt.SpanByName("missing"))
}

func TestTestTelemetry_MetricFind(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	hist, err := tt.Meter("velocity/test").Float64Histogram("velocity.test.duration")
	require.NoError(t, err)
	hist.Record(ctx, 0.5)

	m, ok := tt.MetricReader.Find(ctx, "velocity.test.duration")
	require.True(t, ok)
	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(1), data.DataPoints[0].Count)

	_, ok = tt.MetricReader.Find(ctx, "nope")
	assert.False(t, ok)
	assert.NoError(t, tt.MetricReader.Shutdown(ctx))
}
