package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zammy/zammy/internal/version"
)

type testEnv struct {
	dir        string
	pluginsDir string
	configPath string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:        dir,
		pluginsDir: filepath.Join(dir, "plugins"),
		configPath: filepath.Join(dir, "config.json"),
	}

	cfg := fmt.Sprintf(`{"data_dir": %q, "logging": {"console": false}}`, filepath.ToSlash(dir))
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0644))
	return env
}

func (e testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), stdin, args...)
}

func (e testEnv) runContext(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd, a := newRootCmd()
	defer a.close()

	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// writeSource lays out an installable Lua plugin outside the plugins root
func (e testEnv) writeSource(t *testing.T, name string, commands ...string) string {
	t.Helper()

	dir := filepath.Join(e.dir, "src", strings.ReplaceAll(name, "/", "_"))
	require.NoError(t, os.MkdirAll(dir, 0755))

	manifest, err := json.Marshal(map[string]any{
		"name":        name,
		"version":     "1.0.0",
		"main":        "index.lua",
		"commands":    commands,
		"description": "Test plugin " + name,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zammy-plugin.json"), manifest, 0644))

	var src strings.Builder
	src.WriteString("return {\n  activate = function(api)\n")
	for _, cmd := range commands {
		fmt.Fprintf(&src, "    api.registerCommand{name = %q, execute = function(args) return %q .. \" \" .. (args[1] or \"\") end}\n", cmd, cmd)
	}
	src.WriteString("  end,\n}\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.lua"), []byte(src.String()), 0644))

	return dir
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		output, err := newTestEnv(t).run(t, "", "--version")
		require.NoError(t, err)
		assert.Contains(t, output, "zammy version "+version.Version)
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := newTestEnv(t).run(t, "", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "plugins")
		assert.Contains(t, output, "install")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := NewRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, err := newTestEnv(t).run(t, "", "--log-level", "chatty", "commands")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestConfigCommand(t *testing.T) {
	t.Run("show", func(t *testing.T) {
		env := newTestEnv(t)
		output, err := env.run(t, "", "config", "show")
		require.NoError(t, err)
		assert.Contains(t, output, `"plugins_dir"`)
		assert.Contains(t, output, filepath.ToSlash(env.pluginsDir))
	})

	t.Run("init refuses to overwrite", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.run(t, "", "config", "init")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("init with force", func(t *testing.T) {
		env := newTestEnv(t)
		output, err := env.run(t, "", "config", "init", "--force")
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration saved to")

		data, err := os.ReadFile(env.configPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "clone_timeout")
	})
}
