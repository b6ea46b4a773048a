package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "bandit:\n  alpha: 0.5\n")

	changes := make(chan *Config, 4)
	errs := make(chan error, 4)
	w, err := NewWatcher(path, 20*time.Millisecond,
		func(c *Config) { changes <- c },
		func(err error) { errs <- err },
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, os.WriteFile(path, []byte("bandit:\n  alpha: 1.5\n"), 0600))
	select {
	case cfg := <-changes:
		assert.Equal(t, 1.5, cfg.Bandit.Alpha)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	require.NoError(t, os.WriteFile(path, []byte("bandit:\n  alpha: -3\n"), 0600))
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "alpha")
	case <-time.After(5 * time.Second):
		t.Fatal("invalid config was not reported")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "bandit:\n  alpha: 0.5\n")

	changes := make(chan *Config, 1)
	w, err := NewWatcher(path, 10*time.Millisecond, func(c *Config) { changes <- c }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0600))
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
	assert.Empty(t, changes)
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), time.Millisecond, nil, nil)
	assert.Error(t, err)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing", "config.yaml"), time.Millisecond, func(*Config) {}, nil)
	assert.Error(t, err, "parent directory must exist")
}

func TestResolvePath(t *testing.T) {
	dir := setupTestHome(t)

	got, err := ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), got)

	got, err = ResolvePath("/etc/velocity/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/velocity/config.yaml", got)
}
