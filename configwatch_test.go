package ppdbg

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchConfig(t *testing.T) {
	path := writeFile(t, "ppdbg.yaml", "log:\n  level: info\n")

	var mu sync.Mutex
	var levels []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, nil, func(cfg Config) {
			mu.Lock()
			defer mu.Unlock()
			levels = append(levels, cfg.Log.Level)
		})
	}()
	last := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(levels) == 0 {
			return ""
		}
		return levels[len(levels)-1]
	}

	// the watcher may not be registered yet, so keep rewriting until it is seen
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600)
		return last() == "debug"
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("log: [broken"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"), 0o600))
	require.Eventually(t, func() bool { return last() == "error" }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("WatchConfig did not return after cancel")
	}
}
