package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zammy/zammy/pkg/command"
)

// LoaderConfig configures a Loader
type LoaderConfig struct {
	PluginsDir  string
	HostVersion string
}

// Loader discovers installed plugins and activates them on demand. A plugin
// is activated at most once per discovery: a failed activation is cached
// and returned to every later caller without touching the plugin again.
type Loader struct {
	logger    zerolog.Logger
	config    LoaderConfig
	discovery *PluginDiscovery
	hosts     ModuleHost
	commands  *command.Registry
	plugins   *PluginRegistry
	metrics   Metrics

	discovered map[string]DiscoveredPlugin
	mu         sync.RWMutex

	inflight singleflight.Group
}

// NewLoader creates a loader over the plugins root
func NewLoader(
	logger zerolog.Logger,
	config LoaderConfig,
	manifests *ManifestLoader,
	hosts ModuleHost,
	commands *command.Registry,
	metrics Metrics,
) *Loader {
	return &Loader{
		logger:     logger.With().Str("component", "plugin-loader").Logger(),
		config:     config,
		discovery:  NewPluginDiscovery(logger, manifests, config.HostVersion),
		hosts:      hosts,
		commands:   commands,
		plugins:    NewPluginRegistry(),
		metrics:    orNop(metrics),
		discovered: make(map[string]DiscoveredPlugin),
	}
}

// Discover rescans the plugins root and replaces the discovered set.
// Plugins that are no longer on disk are torn down: their instance is
// released, their load record dropped and their commands unregistered.
func (l *Loader) Discover() ([]PluginManifest, error) {
	found, err := l.discovery.Scan(l.config.PluginsDir)
	if err != nil {
		return nil, fmt.Errorf("plugin discovery failed: %w", err)
	}

	discovered := make(map[string]DiscoveredPlugin, len(found))
	manifests := make([]PluginManifest, 0, len(found))
	for _, plugin := range found {
		discovered[plugin.Manifest.Name] = plugin
		manifests = append(manifests, plugin.Manifest)
	}

	l.mu.Lock()
	vanished := make(map[string]bool)
	for name := range l.discovered {
		if _, ok := discovered[name]; !ok {
			vanished[name] = true
		}
	}
	l.discovered = discovered
	l.mu.Unlock()

	for _, record := range l.plugins.GetAll() {
		name := record.Plugin.Manifest.Name
		if _, ok := discovered[name]; !ok {
			vanished[name] = true
		}
	}
	for name := range vanished {
		l.teardown(context.Background(), name)
		l.logger.Info().Str("plugin", name).Msg("Plugin no longer on disk")
	}

	l.metrics.PluginsDiscovered(len(manifests))
	l.logger.Info().Int("count", len(manifests)).Msg("Discovered plugins")
	return manifests, nil
}

// Discovered returns the discovered entry for name
func (l *Loader) Discovered(name string) (DiscoveredPlugin, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	plugin, ok := l.discovered[name]
	return plugin, ok
}

// DiscoveredPlugins returns the discovered set sorted by name
func (l *Loader) DiscoveredPlugins() []DiscoveredPlugin {
	l.mu.RLock()
	plugins := make([]DiscoveredPlugin, 0, len(l.discovered))
	for _, plugin := range l.discovered {
		plugins = append(plugins, plugin)
	}
	l.mu.RUnlock()

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins
}

// Loaded returns the load state for name, if a load was attempted
func (l *Loader) Loaded(name string) (*LoadedPlugin, bool) {
	record, ok := l.plugins.Get(name)
	if !ok {
		return nil, false
	}
	return record.Plugin, true
}

// Records returns every load attempt still tracked
func (l *Loader) Records() []*PluginRecord {
	return l.plugins.GetAll()
}

// Load activates a discovered plugin. An active plugin is returned as is; a
// plugin in the error state returns its recorded error. Concurrent calls for
// one name share a single activation. Loading a name that was never
// discovered returns ErrNotDiscovered.
func (l *Loader) Load(ctx context.Context, name string) (*LoadedPlugin, error) {
	if plugin, ok := l.Loaded(name); ok {
		if plugin.Err != nil {
			_ = l.plugins.RecordError(name, plugin.Err)
		}
		return plugin, plugin.Err
	}

	v, err, _ := l.inflight.Do(name, func() (interface{}, error) {
		if plugin, ok := l.Loaded(name); ok {
			return plugin, plugin.Err
		}
		// the outcome is cached for everyone, so one caller's cancellation
		// must not decide it
		return l.activate(context.WithoutCancel(ctx), name)
	})

	plugin, _ := v.(*LoadedPlugin)
	return plugin, err
}

func (l *Loader) activate(ctx context.Context, name string) (*LoadedPlugin, error) {
	discovered, ok := l.Discovered(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDiscovered, name)
	}

	start := time.Now()
	plugin := &LoadedPlugin{
		Manifest: discovered.Manifest,
		Path:     discovered.Path,
		LoadedAt: start,
	}

	api := NewPluginAPI(name, l.commands, l.logger)
	instance, err := l.instantiate(ctx, discovered, api)
	if err != nil {
		plugin.State = StateError
		plugin.Err = asActivationError(name, err)

		if instance != nil {
			if cerr := instance.Close(); cerr != nil {
				l.logger.Warn().Err(cerr).Str("plugin", name).Msg("Failed to close plugin after failed activation")
			}
		}

		// drop whatever the failed attempt registered and put the stubs
		// back so invocations report the cached error
		l.commands.UnregisterByOwner(name)
		if serr := l.RegisterLazyCommands(discovered.Manifest); serr != nil {
			l.logger.Warn().Err(serr).Str("plugin", name).Msg("Failed to restore lazy commands")
		}

		if rerr := l.plugins.Register(plugin, nil); rerr != nil {
			l.logger.Warn().Err(rerr).Str("plugin", name).Msg("Failed to record plugin")
		}
		l.metrics.ActivationCompleted(name, OutcomeError, time.Since(start))

		l.logger.Error().Err(plugin.Err).Str("plugin", name).Msg("Plugin activation failed")
		return plugin, plugin.Err
	}

	plugin.Instance = instance
	plugin.State = StateActive

	registered := api.Registered()
	if rerr := l.plugins.Register(plugin, registered); rerr != nil {
		l.logger.Warn().Err(rerr).Str("plugin", name).Msg("Failed to record plugin")
	}
	l.metrics.ActivationCompleted(name, OutcomeSuccess, time.Since(start))

	l.logger.Info().
		Str("plugin", name).
		Str("version", discovered.Manifest.Version).
		Strs("commands", registered).
		Dur("duration", time.Since(start)).
		Msg("Plugin activated")

	return plugin, nil
}

// instantiate loads and activates the module, converting panics into errors.
// The instance is returned alongside an activation error so it can be closed.
func (l *Loader) instantiate(ctx context.Context, discovered DiscoveredPlugin, api PluginAPI) (instance PluginInstance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()

	manifest := discovered.Manifest
	if !IsPathSafe(discovered.Path, manifest.Main) {
		return nil, securityError("load", "main entry point escapes the plugin directory", manifest.Main)
	}

	entry := filepath.Join(discovered.Path, filepath.FromSlash(manifest.Main))
	info, err := os.Stat(entry)
	if err != nil {
		return nil, fmt.Errorf("entry point not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("entry point %s is not a regular file", manifest.Main)
	}

	instance, err = l.hosts.LoadModule(ctx, entry, manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}

	if err := instance.Activate(ctx, api); err != nil {
		return instance, fmt.Errorf("activate failed: %w", err)
	}
	return instance, nil
}

func asActivationError(name string, err error) error {
	var perr *Error
	if errors.As(err, &perr) && perr.Kind != KindConflict {
		return withName(err, name)
	}
	return activationError(name, "activate", err)
}

// Unload deactivates a plugin, drops its commands and forgets it. It
// reports whether the plugin was known.
func (l *Loader) Unload(ctx context.Context, name string) bool {
	l.mu.Lock()
	_, discovered := l.discovered[name]
	delete(l.discovered, name)
	l.mu.Unlock()

	loaded := l.teardown(ctx, name)
	if !loaded && !discovered {
		return false
	}

	l.logger.Info().Str("plugin", name).Msg("Plugin unloaded")
	return true
}

// teardown releases a loaded instance, clears its load record and removes
// every command it owns, stubs included. It reports whether a load attempt
// was on record.
func (l *Loader) teardown(ctx context.Context, name string) bool {
	record, loaded := l.plugins.Get(name)
	if loaded {
		l.release(ctx, record.Plugin)
		if err := l.plugins.Remove(name); err != nil {
			l.logger.Debug().Err(err).Str("plugin", name).Msg("Plugin already removed")
		}
	}

	if removed := l.commands.UnregisterByOwner(name); len(removed) > 0 {
		l.logger.Debug().Str("plugin", name).Strs("commands", removed).Msg("Removed commands")
	}
	return loaded
}

// Rediscover rescans the plugins root and reconciles the command registry.
// Plugins that vanished or changed version are torn down, which also clears
// a cached activation failure; new and changed plugins get lazy stubs.
func (l *Loader) Rediscover(ctx context.Context) (*LoadResult, error) {
	l.mu.RLock()
	previous := make(map[string]string, len(l.discovered))
	for name, plugin := range l.discovered {
		previous[name] = plugin.Manifest.Version
	}
	l.mu.RUnlock()

	manifests, err := l.Discover()
	if err != nil {
		return nil, err
	}

	current := make(map[string]string, len(manifests))
	for _, m := range manifests {
		current[m.Name] = m.Version
	}

	// vanished plugins were already torn down by Discover
	for name, version := range previous {
		if next, ok := current[name]; ok && next != version {
			l.teardown(ctx, name)
			l.logger.Info().Str("plugin", name).Str("version", next).Msg("Plugin changed on disk")
		}
	}

	result := NewLoadResult()
	for _, m := range manifests {
		result.Discovered = append(result.Discovered, m.Name)
		if version, ok := previous[m.Name]; ok && version == m.Version {
			continue
		}
		result.record(m.Name, l.RegisterLazyCommands(m))
	}
	return result, nil
}

// release runs the optional deactivate hook and closes the instance. Errors
// are logged; unloading always proceeds.
func (l *Loader) release(ctx context.Context, plugin *LoadedPlugin) {
	if plugin.Instance == nil {
		return
	}

	name := plugin.Manifest.Name
	func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Warn().Interface("panic", r).Str("plugin", name).Msg("Plugin panicked during deactivate")
			}
		}()
		if err := plugin.Instance.Deactivate(ctx); err != nil {
			l.logger.Warn().Err(activationError(name, "deactivate", err)).Str("plugin", name).Msg("Failed to deactivate plugin")
		}
	}()

	if err := plugin.Instance.Close(); err != nil {
		l.logger.Warn().Err(err).Str("plugin", name).Msg("Failed to close plugin")
	}
}

// UnloadAll unloads every plugin with a load attempt on record
func (l *Loader) UnloadAll(ctx context.Context) {
	for _, record := range l.plugins.GetAll() {
		l.Unload(ctx, record.Plugin.Manifest.Name)
	}
}

// RegisterLazyCommands registers a stub for each manifest command. Names
// held by another owner are skipped and reported in the returned error.
func (l *Loader) RegisterLazyCommands(manifest PluginManifest) error {
	var errs []error
	for _, name := range manifest.Commands {
		if err := l.commands.Register(l.stub(manifest, name), manifest.Name); err != nil {
			errs = append(errs, &Error{Kind: KindConflict, Op: "register-stub", Name: manifest.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// stub returns a placeholder that activates the plugin on first use and
// forwards to the command the plugin registered
func (l *Loader) stub(manifest PluginManifest, name string) command.Command {
	owner := manifest.Name
	description := manifest.Description
	if description == "" {
		description = fmt.Sprintf("Provided by %s", manifest.Title())
	}

	return command.Command{
		Name:        name,
		Description: description,
		Usage:       name,
		Lazy:        true,
		Execute: func(ctx context.Context, args []string, out io.Writer) error {
			if _, err := l.Load(ctx, owner); err != nil {
				return err
			}

			cmd, ok := l.commands.Get(name)
			if !ok || cmd.Lazy || cmd.Owner != owner {
				return fmt.Errorf("%w: %s did not register command %q", ErrPluginMisconfigured, owner, name)
			}
			return cmd.Execute(ctx, args, out)
		},
	}
}
