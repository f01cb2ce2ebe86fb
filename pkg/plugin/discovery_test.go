package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// luaPluginSource returns an index.lua that registers every command,
// each printing "<command> from <plugin>"
func luaPluginSource(commands ...string) string {
	var b strings.Builder
	b.WriteString("return {\n  activate = function(api)\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "    api.registerCommand{name = %q, execute = function(args) return %q .. \" from \" .. api.name end}\n", cmd, cmd)
	}
	b.WriteString("  end,\n}\n")
	return b.String()
}

func testManifest(name string, commands ...string) PluginManifest {
	return PluginManifest{Name: name, Version: "1.0.0", Main: "index.lua", Commands: commands}
}

// writePlugin lays out a plugin directory under root. An empty source
// writes an index.lua registering all manifest commands.
func writePlugin(t *testing.T, root string, manifest PluginManifest, source string) string {
	t.Helper()

	dir := filepath.Join(root, filepath.FromSlash(manifest.Name))
	require.NoError(t, os.MkdirAll(dir, 0755))

	data, err := json.MarshalIndent(manifest, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0644))

	if source == "" {
		source = luaPluginSource(manifest.Commands...)
	}
	if manifest.Main != "" && IsPathSafe(dir, manifest.Main) {
		entry := filepath.Join(dir, filepath.FromSlash(manifest.Main))
		require.NoError(t, os.MkdirAll(filepath.Dir(entry), 0755))
		require.NoError(t, os.WriteFile(entry, []byte(source), 0644))
	}
	return dir
}

func discoveredNames(plugins []DiscoveredPlugin) []string {
	names := make([]string, 0, len(plugins))
	for _, p := range plugins {
		names = append(names, p.Manifest.Name)
	}
	return names
}

func TestPluginDiscovery_Scan(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	discovery := NewPluginDiscovery(logger, NewManifestLoader(logger), "1.3.0")

	t.Run("discovers plain and scoped plugins sorted by name", func(t *testing.T) {
		root := t.TempDir()
		writePlugin(t, root, testManifest("zeta", "zeta"), "")
		writePlugin(t, root, testManifest("alpha", "alpha"), "")
		dir := writePlugin(t, root, testManifest("@acme/tools", "acme"), "")

		discovered, err := discovery.Scan(root)
		require.NoError(t, err)
		assert.Equal(t, []string{"@acme/tools", "alpha", "zeta"}, discoveredNames(discovered))
		assert.Equal(t, dir, discovered[0].Path)
	})

	t.Run("skips directories without a manifest", func(t *testing.T) {
		root := t.TempDir()
		writePlugin(t, root, testManifest("valid", "valid"), "")
		require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0644))

		discovered, err := discovery.Scan(root)
		require.NoError(t, err)
		assert.Equal(t, []string{"valid"}, discoveredNames(discovered))
	})

	t.Run("skips dot directories", func(t *testing.T) {
		root := t.TempDir()
		writePlugin(t, root, testManifest("valid", "valid"), "")
		staging := filepath.Join(root, ".staging-123")
		require.NoError(t, os.MkdirAll(staging, 0755))
		data, _ := json.Marshal(testManifest("valid", "valid"))
		require.NoError(t, os.WriteFile(filepath.Join(staging, ManifestFileName), data, 0644))

		discovered, err := discovery.Scan(root)
		require.NoError(t, err)
		assert.Len(t, discovered, 1)
	})

	t.Run("skips invalid manifests", func(t *testing.T) {
		root := t.TempDir()
		writePlugin(t, root, testManifest("valid", "valid"), "")

		broken := filepath.Join(root, "broken")
		require.NoError(t, os.MkdirAll(broken, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(broken, ManifestFileName), []byte("{not json"), 0644))

		discovered, err := discovery.Scan(root)
		require.NoError(t, err)
		assert.Equal(t, []string{"valid"}, discoveredNames(discovered))
	})

	t.Run("skips plugins whose directory does not match the name", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(root, "renamed")
		require.NoError(t, os.MkdirAll(dir, 0755))
		data, _ := json.Marshal(testManifest("original", "original"))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0644))

		discovered, err := discovery.Scan(root)
		require.NoError(t, err)
		assert.Empty(t, discovered)
	})

	t.Run("applies the compatibility gate", func(t *testing.T) {
		root := t.TempDir()
		future := testManifest("future", "future")
		future.Zammy = &HostRequirements{MinVersion: "99.0.0"}
		writePlugin(t, root, future, "")

		legacy := testManifest("legacy", "legacy")
		legacy.Zammy = &HostRequirements{MaxVersion: "1.2.9"}
		writePlugin(t, root, legacy, "")

		current := testManifest("current", "current")
		current.Zammy = &HostRequirements{MinVersion: "1.3.0", MaxVersion: "1.3.0"}
		writePlugin(t, root, current, "")

		discovered, err := discovery.Scan(root)
		require.NoError(t, err)
		assert.Equal(t, []string{"current"}, discoveredNames(discovered))
	})

	t.Run("handles a missing root gracefully", func(t *testing.T) {
		discovered, err := discovery.Scan(filepath.Join(t.TempDir(), "nonexistent"))
		require.NoError(t, err)
		assert.Empty(t, discovered)
	})

	t.Run("rejects a root that is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

		_, err := discovery.Scan(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}
