// Package config loads velocity configuration.
//
// Values come from a YAML file, then environment overrides, layered on top
// of the defaults returned by Default.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the complete velocity configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Bandit      BanditConfig      `koanf:"bandit"`
	Features    FeaturesConfig    `koanf:"features"`
	Persistence PersistenceConfig `koanf:"persistence"`
	DecisionLog DecisionLogConfig `koanf:"decision_log"`
	NATS        NATSConfig        `koanf:"nats"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	MCP         MCPConfig         `koanf:"mcp"`
	Reload      ReloadConfig      `koanf:"reload"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
}

// BanditConfig holds LinUCB parameters.
type BanditConfig struct {
	Alpha        float64      `koanf:"alpha"`
	Dimension    int          `koanf:"dimension"`
	Epsilon      float64      `koanf:"epsilon"`
	ModelVersion string       `koanf:"model_version"`
	Reward       RewardConfig `koanf:"reward"`
}

// RewardConfig is the optional reward clamp. Off by default, in which
// case rewards are applied verbatim.
type RewardConfig struct {
	Clamp bool    `koanf:"clamp"`
	Min   float64 `koanf:"min"`
	Max   float64 `koanf:"max"`
}

// FeaturesConfig overrides the encoder lookup tables. Labels listed here
// replace the built-in value; unlisted labels keep theirs.
type FeaturesConfig struct {
	Priorities map[string]float64 `koanf:"priorities"`
	Roles      map[string]float64 `koanf:"roles"`
}

// Persistence backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Flush modes.
const (
	FlushSync  = "sync"
	FlushAsync = "async"
)

// PersistenceConfig selects where learned arm state is checkpointed.
type PersistenceConfig struct {
	Backend   string   `koanf:"backend"`
	Path      string   `koanf:"path"`
	Timeout   Duration `koanf:"timeout"`
	FlushMode string   `koanf:"flush_mode"`
	Compress  bool     `koanf:"compress"`
}

// DecisionLogConfig selects where recommendations are recorded.
type DecisionLogConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// NATSConfig holds JetStream key-value settings for the nats backend.
type NATSConfig struct {
	URL            string   `koanf:"url"`
	Token          Secret   `koanf:"token"`
	Bucket         string   `koanf:"bucket"`
	Key            string   `koanf:"key"`
	ConnectTimeout Duration `koanf:"connect_timeout"`
}

// LoggingConfig holds the user-facing logging knobs.
type LoggingConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"`
	OTEL            bool   `koanf:"otel"`
	DisableSampling bool   `koanf:"disable_sampling"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	ServiceName     string   `koanf:"service_name"`
	Insecure        bool     `koanf:"insecure"`
	TLSSkipVerify   bool     `koanf:"tls_skip_verify"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsEnabled  bool     `koanf:"metrics_enabled"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// RateLimitConfig limits learning endpoints (train, feedback).
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// MCPConfig controls the stdio MCP server.
type MCPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Name    string `koanf:"name"`
}

// ReloadConfig controls watching the config file for tuning changes.
// Only bandit.alpha and bandit.reward are applied without a restart.
type ReloadConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Debounce Duration `koanf:"debounce"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8090,
			ShutdownTimeout: Duration(10 * time.Second),
			BodyLimit:       "8M",
		},
		Bandit: BanditConfig{
			Alpha:        0.5,
			Dimension:    6,
			Epsilon:      1e-5,
			ModelVersion: "v1.0.0-linucb",
			Reward: RewardConfig{
				Min: 0,
				Max: 1,
			},
		},
		Persistence: PersistenceConfig{
			Backend:   BackendFile,
			Path:      "~/.config/velocity/bandit_state.json",
			Timeout:   Duration(5 * time.Second),
			FlushMode: FlushSync,
		},
		DecisionLog: DecisionLogConfig{
			Backend: BackendSQLite,
			Path:    "~/.config/velocity/decisions.db",
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Bucket:         "velocity",
			Key:            "bandit-state",
			ConnectTimeout: Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			ServiceName:     "velocityd",
			Insecure:        true,
			SampleRate:      1.0,
			MetricsEnabled:  true,
			ExportInterval:  Duration(15 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     50,
			Burst:   100,
		},
		MCP: MCPConfig{
			Name: "velocity",
		},
		Reload: ReloadConfig{
			Enabled:  true,
			Debounce: Duration(250 * time.Millisecond),
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if err := c.Bandit.validate(); err != nil {
		return fmt.Errorf("bandit: %w", err)
	}
	if err := validateTable("features.priorities", c.Features.Priorities); err != nil {
		return err
	}
	if err := validateTable("features.roles", c.Features.Roles); err != nil {
		return err
	}

	switch c.Persistence.Backend {
	case BackendFile, BackendSQLite:
		if c.Persistence.Path == "" {
			return fmt.Errorf("persistence.path required for %s backend", c.Persistence.Backend)
		}
	case BackendNATS:
		if c.NATS.URL == "" || c.NATS.Bucket == "" || c.NATS.Key == "" {
			return errors.New("nats.url, nats.bucket and nats.key required for nats backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown persistence.backend %q", c.Persistence.Backend)
	}
	if c.Persistence.Timeout <= 0 {
		return errors.New("persistence.timeout must be positive")
	}
	if c.Persistence.FlushMode != FlushSync && c.Persistence.FlushMode != FlushAsync {
		return fmt.Errorf("persistence.flush_mode must be %q or %q, got %q", FlushSync, FlushAsync, c.Persistence.FlushMode)
	}

	switch c.DecisionLog.Backend {
	case BackendSQLite:
		if c.DecisionLog.Path == "" {
			return errors.New("decision_log.path required for sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown decision_log.backend %q", c.DecisionLog.Backend)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
	}

	if c.Reload.Enabled && c.Reload.Debounce <= 0 {
		return errors.New("reload.debounce must be positive when reload is enabled")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		return errors.New("ratelimit.rps must be positive and ratelimit.burst at least 1")
	}
	return nil
}

func (b BanditConfig) validate() error {
	if math.IsNaN(b.Alpha) || b.Alpha < 0 {
		return fmt.Errorf("alpha must be >= 0, got %v", b.Alpha)
	}
	if b.Dimension < 1 {
		return fmt.Errorf("dimension must be >= 1, got %d", b.Dimension)
	}
	if !(b.Epsilon > 0) {
		return fmt.Errorf("epsilon must be > 0, got %v", b.Epsilon)
	}
	if b.Reward.Clamp && !(b.Reward.Min < b.Reward.Max) {
		return fmt.Errorf("reward.min (%v) must be below reward.max (%v)", b.Reward.Min, b.Reward.Max)
	}
	return nil
}

func validateTable(name string, table map[string]float64) error {
	for label, v := range table {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%s[%s] must be within [0,1], got %v", name, label, v)
		}
	}
	return nil
}
