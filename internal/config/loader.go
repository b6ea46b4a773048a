package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment variables read as overrides.
	EnvPrefix = "VELOCITY_"
)

// sections lists the top-level keys, longest first so that
// DECISION_LOG_PATH resolves to decision_log.path rather than decision.log_path.
var sections = []string{"decision_log", "persistence", "telemetry", "ratelimit", "features", "logging", "reload", "server", "bandit", "nats", "mcp"}

// subsections are nested blocks whose env names need a second dot.
var subsections = map[string][]string{
	"bandit": {"reward"},
}

// LoadWithFile loads configuration from a YAML file and then applies
// environment overrides.
//
// Precedence, highest first:
//  1. Environment variables (VELOCITY_BANDIT_ALPHA, VELOCITY_SERVER_HTTP_PORT, ...)
//  2. YAML config file (~/.config/velocity/config.yaml)
//  3. Default()
//
// The file must live under ~/.config/velocity/ or /etc/velocity/, be at
// most 1MB and carry 0600 or 0400 permissions. A missing file is not an
// error.
//
// Environment names are the upper-cased key path with dots replaced by
// underscores:
//
//	VELOCITY_BANDIT_ALPHA          -> bandit.alpha
//	VELOCITY_BANDIT_REWARD_CLAMP   -> bandit.reward.clamp
//	VELOCITY_DECISION_LOG_BACKEND  -> decision_log.backend
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	configPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		// Validate through the open descriptor to avoid a TOCTOU race.
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ResolvePath returns configPath, or ~/.config/velocity/config.yaml when
// it is empty.
func ResolvePath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// envKey maps VELOCITY_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		rest, ok := strings.CutPrefix(lower, section+"_")
		if !ok {
			continue
		}
		for _, sub := range subsections[section] {
			if field, ok := strings.CutPrefix(rest, sub+"_"); ok {
				return section + "." + sub + "." + field
			}
		}
		return section + "." + rest
	}
	return lower
}

// DefaultConfigDir returns ~/.config/velocity.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "velocity"), nil
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// validateConfigPath checks the path is inside an allowed directory. It
// runs whether or not the file exists.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	// Follow symlinks so a link cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	userDir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/velocity"} {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/velocity/ or /etc/velocity/")
}

// validateConfigFileProperties checks permissions and size of an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
