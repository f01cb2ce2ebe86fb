package plugin

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, calls *atomic.Int32) *Watcher {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	watcher, err := NewWatcher(logger, WatcherConfig{
		PluginsDir: root,
		Debounce:   50 * time.Millisecond,
		OnChange: func() error {
			calls.Add(1)
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	t.Cleanup(func() { _ = watcher.Stop() })
	return watcher
}

func TestWatcher(t *testing.T) {
	t.Run("requires a callback", func(t *testing.T) {
		_, err := NewWatcher(zerolog.Nop(), WatcherConfig{PluginsDir: t.TempDir()})
		assert.Error(t, err)
	})

	t.Run("creates a missing plugins root", func(t *testing.T) {
		var calls atomic.Int32
		root := filepath.Join(t.TempDir(), "plugins")
		startWatcher(t, root, &calls)
		assert.DirExists(t, root)
	})

	t.Run("coalesces a new install into one change", func(t *testing.T) {
		var calls atomic.Int32
		root := t.TempDir()
		startWatcher(t, root, &calls)

		writePlugin(t, root, testManifest("demo", "demo"), "")

		assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("notices manifest edits in existing plugins", func(t *testing.T) {
		var calls atomic.Int32
		root := t.TempDir()
		dir := writePlugin(t, root, testManifest("demo", "demo"), "")
		startWatcher(t, root, &calls)

		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(demoManifestJSON), 0644))
		assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("ignores staging directories", func(t *testing.T) {
		var calls atomic.Int32
		root := t.TempDir()
		startWatcher(t, root, &calls)

		require.NoError(t, os.MkdirAll(filepath.Join(root, stagingPrefix+"abc"), 0755))
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
	})
}
