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

type reload struct {
	cfg *Config
	err error
}

func startWatcher(t *testing.T, path string) <-chan reload {
	t.Helper()

	reloads := make(chan reload, 8)
	w, err := NewWatcher(Loader{Path: path, LookupEnv: noEnv}, func(cfg *Config, err error) {
		reloads <- reload{cfg, err}
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	// Give the watcher time to register before the test writes.
	time.Sleep(50 * time.Millisecond)
	return reloads
}

// replaceFile swaps content in with a rename so the watcher never sees a
// half-written file.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func nextReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reload")
		return reload{}
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeFile(t, "config.toml", "[logging]\nlevel = \"info\"\n")
	reloads := startWatcher(t, path)

	replaceFile(t, path, "[logging]\nlevel = \"debug\"\n")

	r := nextReload(t, reloads)
	require.NoError(t, r.err)
	assert.Equal(t, "debug", r.cfg.Logging.Level)
}

func TestWatcherReportsBrokenFile(t *testing.T) {
	path := writeFile(t, "config.toml", "")
	reloads := startWatcher(t, path)

	replaceFile(t, path, "[session]\nthread_id = 0\n")

	r := nextReload(t, reloads)
	assert.Nil(t, r.cfg)
	assert.ErrorIs(t, r.err, ErrValidationFailed)
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	path := writeFile(t, "config.toml", "")
	reloads := startWatcher(t, path)

	sibling := filepath.Join(filepath.Dir(path), "other.toml")
	require.NoError(t, os.WriteFile(sibling, []byte("x"), 0o644))

	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload: %+v", r)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNewWatcherNeedsPath(t *testing.T) {
	_, err := NewWatcher(Loader{}, func(*Config, error) {})
	assert.Error(t, err)
}
