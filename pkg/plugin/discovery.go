package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// PluginDiscovery scans the plugins root for installed plugins
type PluginDiscovery struct {
	logger      zerolog.Logger
	manifests   *ManifestLoader
	hostVersion string
}

// NewPluginDiscovery creates a new plugin discovery instance
func NewPluginDiscovery(logger zerolog.Logger, manifests *ManifestLoader, hostVersion string) *PluginDiscovery {
	return &PluginDiscovery{
		logger:      logger.With().Str("component", "plugin-discovery").Logger(),
		manifests:   manifests,
		hostVersion: hostVersion,
	}
}

// Scan returns every plugin under root with a valid manifest that passes the
// compatibility gate, sorted by name. Scoped plugins live one level deeper,
// under their @scope directory. A missing root yields no plugins.
func (d *PluginDiscovery) Scan(root string) ([]DiscoveredPlugin, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("dir", root).Msg("Plugins directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", root, err)
	}

	var discovered []DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if strings.HasPrefix(entry.Name(), "@") {
			discovered = append(discovered, d.scanScope(root, entry.Name())...)
			continue
		}

		if plugin, ok := d.inspect(filepath.Join(root, entry.Name()), entry.Name()); ok {
			discovered = append(discovered, plugin)
		}
	}

	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].Manifest.Name < discovered[j].Manifest.Name
	})

	d.logger.Debug().Int("count", len(discovered)).Msg("Plugin discovery completed")
	return discovered, nil
}

func (d *PluginDiscovery) scanScope(root, scope string) []DiscoveredPlugin {
	scopeDir := filepath.Join(root, scope)
	entries, err := os.ReadDir(scopeDir)
	if err != nil {
		d.logger.Warn().Err(err).Str("dir", scopeDir).Msg("Failed to read scope directory")
		return nil
	}

	var discovered []DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := scope + "/" + entry.Name()
		if plugin, ok := d.inspect(filepath.Join(scopeDir, entry.Name()), name); ok {
			discovered = append(discovered, plugin)
		}
	}
	return discovered
}

// inspect validates one plugin directory whose name must match the manifest
func (d *PluginDiscovery) inspect(dir, expectedName string) (DiscoveredPlugin, bool) {
	manifestPath := filepath.Join(dir, ManifestFileName)
	if _, err := os.Stat(manifestPath); err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to check for manifest")
		} else {
			d.logger.Debug().Str("dir", dir).Msg("Directory does not contain a manifest, skipping")
		}
		return DiscoveredPlugin{}, false
	}

	manifest, err := d.manifests.LoadManifest(manifestPath)
	if err != nil {
		d.logger.Warn().Err(err).Str("dir", dir).Msg("Skipping plugin with invalid manifest")
		return DiscoveredPlugin{}, false
	}

	if manifest.Name != expectedName {
		d.logger.Warn().
			Str("dir", dir).
			Str("name", manifest.Name).
			Msg("Skipping plugin whose directory does not match its name")
		return DiscoveredPlugin{}, false
	}

	if err := CheckCompatibility(d.hostVersion, *manifest); err != nil {
		d.logger.Warn().Err(err).Str("plugin", manifest.Name).Msg("Skipping incompatible plugin")
		return DiscoveredPlugin{}, false
	}

	d.logger.Debug().
		Str("plugin", manifest.Name).
		Str("path", dir).
		Msg("Discovered plugin")

	return DiscoveredPlugin{Manifest: *manifest, Path: dir}, true
}
