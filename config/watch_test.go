package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsValidChanges(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got atomic.Pointer[Config]
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 10*time.Millisecond, func(c *Config) { got.Store(c) })
	}()

	// Rewrite until the watcher (which may not be registered yet) sees it
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644)
		c := got.Load()
		return c != nil && c.Log.Level == "debug"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_SkipsInvalidFiles(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = Watch(ctx, path, 10*time.Millisecond, func(*Config) { calls.Add(1) })
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
		time.Sleep(30 * time.Millisecond)
	}
	assert.Zero(t, calls.Load())
}

func TestWatch_EmptyPath(t *testing.T) {
	err := Watch(context.Background(), "", 0, func(*Config) {})
	require.Error(t, err)
}

func TestChanges(t *testing.T) {
	old := Default()
	next := Default()
	next.Log.Level = "debug"
	next.Server.ComputeRate = 20
	next.Server.Addr = ":9090"

	live, restart := old.Changes(next)
	assert.Equal(t, []string{"log.level: info → debug", "server.compute_rate: 5 → 20"}, live)
	assert.Equal(t, []string{"server.addr: :8080 → :9090"}, restart)

	live, restart = old.Changes(Default())
	assert.Empty(t, live)
	assert.Empty(t, restart)
}
