package config

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.Bandit.Alpha)
	assert.Equal(t, 6, cfg.Bandit.Dimension)
	assert.Equal(t, 1e-5, cfg.Bandit.Epsilon)
	assert.Equal(t, "v1.0.0-linucb", cfg.Bandit.ModelVersion)
	assert.False(t, cfg.Bandit.Reward.Clamp)
	assert.Equal(t, FlushSync, cfg.Persistence.FlushMode)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown"},
		{"negative alpha", func(c *Config) { c.Bandit.Alpha = -0.1 }, "alpha"},
		{"nan alpha", func(c *Config) { c.Bandit.Alpha = math.NaN() }, "alpha"},
		{"zero dimension", func(c *Config) { c.Bandit.Dimension = 0 }, "dimension"},
		{"zero epsilon", func(c *Config) { c.Bandit.Epsilon = 0 }, "epsilon"},
		{"inverted clamp", func(c *Config) {
			c.Bandit.Reward = RewardConfig{Clamp: true, Min: 1, Max: 0}
		}, "reward.min"},
		{"priority out of range", func(c *Config) {
			c.Features.Priorities = map[string]float64{"Urgent": 1.5}
		}, "features.priorities"},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "s3" }, "persistence.backend"},
		{"file without path", func(c *Config) { c.Persistence.Path = "" }, "persistence.path"},
		{"nats without bucket", func(c *Config) {
			c.Persistence.Backend = BackendNATS
			c.NATS.Bucket = ""
		}, "nats"},
		{"zero timeout", func(c *Config) { c.Persistence.Timeout = 0 }, "timeout"},
		{"bad flush mode", func(c *Config) { c.Persistence.FlushMode = "eventually" }, "flush_mode"},
		{"bad decision log", func(c *Config) { c.DecisionLog.Backend = "kafka" }, "decision_log"},
		{"telemetry protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "protocol"},
		{"ratelimit burst", func(c *Config) { c.RateLimit.Burst = 0 }, "ratelimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_MemoryBackends(t *testing.T) {
	cfg := Default()
	cfg.Persistence.Backend = BackendMemory
	cfg.Persistence.Path = ""
	cfg.DecisionLog.Backend = BackendMemory
	cfg.DecisionLog.Path = ""
	assert.NoError(t, cfg.Validate())
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("s3cr3t")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "s3cr3t", s.Value())
	assert.True(t, s.IsSet())

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"tok"`), &s))
	assert.Equal(t, "tok", s.Value())

	assert.Error(t, json.Unmarshal([]byte(`"[REDACTED]"`), &s))
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, "1m30s", d.Duration().String())

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
