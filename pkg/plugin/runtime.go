package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zammy/zammy/pkg/command"
)

// DefaultRPCStartTimeout bounds how long a plugin executable may take to
// complete the handshake
const DefaultRPCStartTimeout = 10 * time.Second

// ManagerConfig configures the plugin system
type ManagerConfig struct {
	PluginsDir      string
	HostVersion     string
	RPCStartTimeout time.Duration

	NpmTimeout   time.Duration
	CloneTimeout time.Duration
	BuildTimeout time.Duration
	AllowBuild   bool
}

// Manager is the single entry point the host uses for plugins. It owns the
// installer and loader and shares the host's command registry.
type Manager struct {
	logger    zerolog.Logger
	config    ManagerConfig
	commands  *command.Registry
	installer *Installer
	loader    *Loader
}

// NewManager wires the plugin system. Lua entry points run in-process;
// extensionless and .exe entry points run as plugin subprocesses.
func NewManager(
	logger zerolog.Logger,
	config ManagerConfig,
	commands *command.Registry,
	runner CommandRunner,
	metrics Metrics,
) *Manager {
	if config.RPCStartTimeout <= 0 {
		config.RPCStartTimeout = DefaultRPCStartTimeout
	}

	hosts := NewHosts()
	hosts.Register(".lua", NewLuaHost(logger))
	rpcHost := NewRPCHost(logger, config.RPCStartTimeout)
	hosts.Register("", rpcHost)
	hosts.Register(".exe", rpcHost)

	return NewManagerWithHosts(logger, config, commands, runner, metrics, hosts)
}

// NewManagerWithHosts wires the plugin system with custom module hosts
func NewManagerWithHosts(
	logger zerolog.Logger,
	config ManagerConfig,
	commands *command.Registry,
	runner CommandRunner,
	metrics Metrics,
	hosts ModuleHost,
) *Manager {
	manifests := NewManifestLoader(logger)

	installer := NewInstaller(logger, InstallerConfig{
		PluginsDir:   config.PluginsDir,
		HostVersion:  config.HostVersion,
		NpmTimeout:   config.NpmTimeout,
		CloneTimeout: config.CloneTimeout,
		BuildTimeout: config.BuildTimeout,
		AllowBuild:   config.AllowBuild,
	}, runner, manifests, commands, metrics)

	loader := NewLoader(logger, LoaderConfig{
		PluginsDir:  config.PluginsDir,
		HostVersion: config.HostVersion,
	}, manifests, hosts, commands, metrics)

	return &Manager{
		logger:    logger.With().Str("component", "plugin-manager").Logger(),
		config:    config,
		commands:  commands,
		installer: installer,
		loader:    loader,
	}
}

// Commands returns the shared command registry
func (m *Manager) Commands() *command.Registry {
	return m.commands
}

// PluginsDir returns the plugins root
func (m *Manager) PluginsDir() string {
	return m.config.PluginsDir
}

// Initialize discovers installed plugins and registers their lazy commands.
// No plugin code runs.
func (m *Manager) Initialize() (*LoadResult, error) {
	m.logger.Info().Str("dir", m.config.PluginsDir).Msg("Initializing plugins")

	manifests, err := m.loader.Discover()
	if err != nil {
		return nil, err
	}

	result := NewLoadResult()
	for _, manifest := range manifests {
		result.Discovered = append(result.Discovered, manifest.Name)
		err := m.loader.RegisterLazyCommands(manifest)
		if err != nil {
			m.logger.Warn().Err(err).Str("plugin", manifest.Name).Msg("Some plugin commands could not be registered")
		}
		result.record(manifest.Name, err)
	}

	m.logger.Info().
		Int("discovered", len(result.Discovered)).
		Int("registered", len(result.Registered)).
		Int("failed", len(result.Failed)).
		Msg("Plugin initialization complete")

	return result, nil
}

// DiscoverPlugins rescans the plugins root without touching the registry
func (m *Manager) DiscoverPlugins() ([]PluginManifest, error) {
	return m.loader.Discover()
}

// LoadPlugin activates a discovered plugin
func (m *Manager) LoadPlugin(ctx context.Context, name string) (*LoadedPlugin, error) {
	return m.loader.Load(ctx, name)
}

// UnloadPlugin deactivates a plugin and removes its commands
func (m *Manager) UnloadPlugin(ctx context.Context, name string) bool {
	return m.loader.Unload(ctx, name)
}

// Install installs from any supported source. Commands are not registered
// until Activate is called, so the caller can confirm first.
func (m *Manager) Install(ctx context.Context, source string) (*InstallResult, error) {
	return m.installer.Install(ctx, source)
}

// InstallFromLocal installs from a local directory
func (m *Manager) InstallFromLocal(ctx context.Context, path string) (*InstallResult, error) {
	return m.installer.InstallFromLocal(ctx, path)
}

// InstallFromNpm installs an npm package
func (m *Manager) InstallFromNpm(ctx context.Context, spec string) (*InstallResult, error) {
	return m.installer.InstallFromNpm(ctx, spec)
}

// InstallFromGitHub installs a GitHub repository
func (m *Manager) InstallFromGitHub(ctx context.Context, source string) (*InstallResult, error) {
	return m.installer.InstallFromGitHub(ctx, source)
}

// InstallFromGit installs from a git URL
func (m *Manager) InstallFromGit(ctx context.Context, url string) (*InstallResult, error) {
	return m.installer.InstallFromGit(ctx, url)
}

// Activate makes a freshly installed plugin's commands available as lazy
// stubs. A previous version that was loaded is unloaded first.
func (m *Manager) Activate(ctx context.Context, result *InstallResult) error {
	name := result.Manifest.Name
	m.loader.Unload(ctx, name)

	if _, err := m.loader.Discover(); err != nil {
		return err
	}
	discovered, ok := m.loader.Discovered(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDiscovered, name)
	}

	return m.loader.RegisterLazyCommands(discovered.Manifest)
}

// Uninstall unloads a plugin and removes it from disk
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	m.loader.Unload(ctx, name)
	return m.installer.Uninstall(name)
}

// CheckConflicts lists manifest commands owned by core or another plugin
func (m *Manager) CheckConflicts(manifest PluginManifest) []CommandConflict {
	return m.installer.CheckConflicts(manifest)
}

// FormatPermissions renders the manifest permissions for display
func (m *Manager) FormatPermissions(manifest PluginManifest) []string {
	return FormatPermissions(manifest)
}

// Refresh reconciles the registry with the plugins root
func (m *Manager) Refresh(ctx context.Context) (*LoadResult, error) {
	result, err := m.loader.Rediscover(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Int("discovered", len(result.Discovered)).
		Strs("registered", result.Registered).
		Strs("failed", result.Failed).
		Msg("Plugins refreshed")
	return result, nil
}

// Plugins reports the status of every discovered plugin
func (m *Manager) Plugins() []PluginStatus {
	discovered := m.loader.DiscoveredPlugins()
	statuses := make([]PluginStatus, 0, len(discovered))

	for _, plugin := range discovered {
		status := PluginStatus{
			Manifest: plugin.Manifest,
			Path:     plugin.Path,
		}

		if loaded, ok := m.loader.Loaded(plugin.Manifest.Name); ok {
			status.Loaded = true
			status.State = loaded.State
			status.Err = loaded.Err
		}

		for _, cmd := range m.commands.ListByOwner(plugin.Manifest.Name) {
			status.Commands = append(status.Commands, cmd.Name)
		}

		statuses = append(statuses, status)
	}
	return statuses
}

// Plugin reports the status of one discovered plugin
func (m *Manager) Plugin(name string) (PluginStatus, bool) {
	for _, status := range m.Plugins() {
		if status.Manifest.Name == name {
			return status, true
		}
	}
	return PluginStatus{}, false
}

// Shutdown unloads every loaded plugin
func (m *Manager) Shutdown(ctx context.Context) {
	m.loader.UnloadAll(ctx)
	m.logger.Debug().Msg("Plugin manager shut down")
}
