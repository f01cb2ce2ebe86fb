package plugin

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zammy/zammy/pkg/command"
)

func newTestManager(t *testing.T, metrics Metrics) (*Manager, string) {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	pluginsDir := filepath.Join(t.TempDir(), "plugins")

	commands := command.NewRegistry()
	require.NoError(t, commands.Register(command.Command{Name: "help", Execute: printer("core help")}, command.CoreOwner))

	manager := NewManager(logger, ManagerConfig{PluginsDir: pluginsDir, HostVersion: "1.3.0"}, commands, &fakeRunner{}, metrics)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })
	return manager, pluginsDir
}

func TestManager_InstallAndRun(t *testing.T) {
	ctx := context.Background()
	metrics := &fakeMetrics{}
	manager, pluginsDir := newTestManager(t, metrics)

	src := writePlugin(t, t.TempDir(), testManifest("demo", "demo"), "")
	result, err := manager.Install(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	_, ok := manager.Commands().Get("demo")
	assert.False(t, ok, "commands appear only after activation")

	require.NoError(t, manager.Activate(ctx, result))

	stub, ok := manager.Commands().Get("demo")
	require.True(t, ok)
	assert.True(t, stub.Lazy)

	var out bytes.Buffer
	require.NoError(t, manager.Commands().Execute(ctx, "demo", nil, &out))
	assert.Equal(t, "demo from demo\n", out.String())

	status, ok := manager.Plugin("demo")
	require.True(t, ok)
	assert.True(t, status.Loaded)
	assert.Equal(t, StateActive, status.State)
	assert.Equal(t, []string{"demo"}, status.Commands)
	assert.Equal(t, filepath.Join(pluginsDir, "demo"), status.Path)
	assert.Equal(t, OutcomeSuccess, metrics.activations["demo"])

	require.NoError(t, manager.Uninstall(ctx, "demo"))
	_, ok = manager.Commands().Get("demo")
	assert.False(t, ok)
	assert.NoDirExists(t, filepath.Join(pluginsDir, "demo"))
	assert.Empty(t, manager.Plugins())
}

func TestManager_Initialize(t *testing.T) {
	manager, pluginsDir := newTestManager(t, nil)
	writePlugin(t, pluginsDir, testManifest("alpha", "alpha"), "")
	writePlugin(t, pluginsDir, testManifest("greedy", "help", "greedy"), "")

	result, err := manager.Initialize()
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "greedy"}, result.Discovered)
	assert.Equal(t, []string{"alpha"}, result.Registered)
	assert.Equal(t, []string{"greedy"}, result.Failed)
	assert.True(t, IsKind(result.Errors["greedy"], KindConflict))

	help, _ := manager.Commands().Get("help")
	assert.Equal(t, command.CoreOwner, help.Owner)

	statuses := manager.Plugins()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Loaded)
	assert.Equal(t, []string{"alpha"}, statuses[0].Commands)
}

func TestManager_ReinstallReplacesLoadedPlugin(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t, nil)

	v1 := writePlugin(t, t.TempDir(), testManifest("demo", "demo"), `return { activate = function(api)
  api.registerCommand{ name = "demo", execute = function() return "v1" end }
end }`)
	result, err := manager.InstallFromLocal(ctx, v1)
	require.NoError(t, err)
	require.NoError(t, manager.Activate(ctx, result))

	var out bytes.Buffer
	require.NoError(t, manager.Commands().Execute(ctx, "demo", nil, &out))
	assert.Equal(t, "v1\n", out.String())

	m := testManifest("demo", "demo")
	m.Version = "1.1.0"
	v2 := writePlugin(t, t.TempDir(), m, `return { activate = function(api)
  api.registerCommand{ name = "demo", execute = function() return "v2" end }
end }`)
	result, err = manager.InstallFromLocal(ctx, v2)
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts, "a plugin never conflicts with itself")
	require.NoError(t, manager.Activate(ctx, result))

	out.Reset()
	require.NoError(t, manager.Commands().Execute(ctx, "demo", nil, &out))
	assert.Equal(t, "v2\n", out.String())
}

func TestManager_Refresh(t *testing.T) {
	ctx := context.Background()
	manager, pluginsDir := newTestManager(t, nil)

	writePlugin(t, pluginsDir, testManifest("keep", "keep"), "")
	brokenDir := writePlugin(t, pluginsDir, testManifest("broken", "broken"), `return { activate = function() error("bad") end }`)
	goneDir := writePlugin(t, pluginsDir, testManifest("gone", "gone"), "")

	_, err := manager.Initialize()
	require.NoError(t, err)

	require.NoError(t, manager.Commands().Execute(ctx, "keep", nil, &bytes.Buffer{}))
	require.Error(t, manager.Commands().Execute(ctx, "broken", nil, &bytes.Buffer{}))

	// remove one plugin, fix another with a version bump, add a third
	require.NoError(t, os.RemoveAll(goneDir))
	fixed := testManifest("broken", "broken")
	fixed.Version = "1.0.1"
	require.NoError(t, os.RemoveAll(brokenDir))
	writePlugin(t, pluginsDir, fixed, "")
	writePlugin(t, pluginsDir, testManifest("fresh", "fresh"), "")

	result, err := manager.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "fresh", "keep"}, result.Discovered)
	assert.ElementsMatch(t, []string{"broken", "fresh"}, result.Registered)

	_, ok := manager.Commands().Get("gone")
	assert.False(t, ok)

	keep, _ := manager.Commands().Get("keep")
	assert.False(t, keep.Lazy, "unchanged loaded plugins keep their real commands")

	var out bytes.Buffer
	require.NoError(t, manager.Commands().Execute(ctx, "broken", nil, &out))
	assert.Equal(t, "broken from broken\n", out.String())

	out.Reset()
	require.NoError(t, manager.Commands().Execute(ctx, "fresh", nil, &out))
	assert.Equal(t, "fresh from fresh\n", out.String())
}

func TestManager_LoadAndUnload(t *testing.T) {
	ctx := context.Background()
	manager, pluginsDir := newTestManager(t, nil)
	writePlugin(t, pluginsDir, testManifest("demo", "demo"), "")

	manifests, err := manager.DiscoverPlugins()
	require.NoError(t, err)
	require.Len(t, manifests, 1)

	plugin, err := manager.LoadPlugin(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, StateActive, plugin.State)

	cmd, ok := manager.Commands().Get("demo")
	require.True(t, ok)
	assert.False(t, cmd.Lazy)

	assert.True(t, manager.UnloadPlugin(ctx, "demo"))
	assert.False(t, manager.UnloadPlugin(ctx, "demo"))

	_, err = manager.LoadPlugin(ctx, "demo")
	assert.ErrorIs(t, err, ErrNotDiscovered)
}

func TestManager_Facade(t *testing.T) {
	manager, _ := newTestManager(t, nil)

	m := testManifest("demo", "help", "demo")
	assert.Equal(t, []CommandConflict{{Command: "help", Owner: command.CoreOwner}}, manager.CheckConflicts(m))
	assert.Equal(t, []string{"No special permissions requested"}, manager.FormatPermissions(m))
}
