package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce coalesces bursts of filesystem events
const DefaultWatchDebounce = 250 * time.Millisecond

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	PluginsDir string
	Debounce   time.Duration

	// OnChange runs once per burst of changes under the plugins root
	OnChange func() error
}

// Watcher watches the plugins root, its @scope directories and each plugin
// directory, and reports settled changes
type Watcher struct {
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	config   WatcherConfig
	done     chan struct{}
	stopOnce sync.Once

	timer   *time.Timer
	timerMu sync.Mutex
}

// NewWatcher creates a plugins root watcher
func NewWatcher(logger zerolog.Logger, config WatcherConfig) (*Watcher, error) {
	if config.OnChange == nil {
		return nil, fmt.Errorf("watcher requires an OnChange callback")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		logger:  logger.With().Str("component", "plugin-watcher").Logger(),
		watcher: watcher,
		config:  config,
		done:    make(chan struct{}),
	}, nil
}

// Start creates the plugins root if needed and begins watching it
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.config.PluginsDir, 0755); err != nil {
		return fmt.Errorf("failed to create plugins directory: %w", err)
	}
	if err := w.addTree(w.config.PluginsDir, 0); err != nil {
		return fmt.Errorf("failed to watch plugins directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.config.PluginsDir).Msg("Plugin watcher started")
	return nil
}

// Stop stops the watcher and cancels a pending callback
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Info().Msg("Plugin watcher stopped")
	return nil
}

// addTree watches dir and, up to the depth of a scoped plugin, its
// subdirectories. Plugin contents below that are not watched.
func (w *Watcher) addTree(dir string, depth int) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	if depth >= 2 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		// only @scope directories contain plugin directories
		if depth == 1 && !strings.HasPrefix(filepath.Base(dir), "@") {
			continue
		}
		if err := w.addTree(filepath.Join(dir, entry.Name()), depth+1); err != nil {
			w.logger.Warn().Err(err).Str("dir", entry.Name()).Msg("Failed to watch directory")
		}
	}
	return nil
}

func (w *Watcher) depth(path string) int {
	rel, err := filepath.Rel(w.config.PluginsDir, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.shouldIgnore(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name, w.depth(event.Name)); err != nil {
				w.logger.Debug().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
		}
	}

	w.schedule()
}

// shouldIgnore filters staging directories and editor noise
func (w *Watcher) shouldIgnore(path string) bool {
	rel, err := filepath.Rel(w.config.PluginsDir, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	base := filepath.Base(path)
	return strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}

// schedule restarts the debounce timer
func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, w.fire)
}

func (w *Watcher) fire() {
	select {
	case <-w.done:
		return
	default:
	}

	if err := w.config.OnChange(); err != nil {
		w.logger.Error().Err(err).Msg("Plugin refresh failed")
	}
}
