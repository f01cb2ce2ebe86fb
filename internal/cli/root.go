package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zammy/zammy/internal/config"
	"github.com/zammy/zammy/internal/logger"
	"github.com/zammy/zammy/internal/metrics"
	"github.com/zammy/zammy/internal/version"
	"github.com/zammy/zammy/pkg/command"
	"github.com/zammy/zammy/pkg/plugin"
	"github.com/zammy/zammy/pkg/process"
)

// app holds what a single invocation builds: config, logger, metrics, the
// command registry and, on first use, the plugin manager
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	commands *command.Registry
	manager  *plugin.Manager
}

// Execute builds the command tree and runs it until completion or an
// interrupt signal.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, a := newRootCmd()
	defer a.close()
	return cmd.ExecuteContext(ctx)
}

// NewRootCmd returns a fresh command tree
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "zammy",
		Short: "zammy - a terminal assistant with installable command plugins",
		Long: `zammy is a terminal assistant whose commands come from plugins.
Plugins are installed from local directories, npm, GitHub or any git URL,
and are only activated the first time one of their commands runs.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default is $HOME/.zammy/config.json)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	root.AddCommand(
		newPluginCmd(a),
		newCommandsCmd(a),
		newRunCmd(a),
		newConfigCmd(a),
	)

	return root, a
}

// setup loads configuration and builds the logger, metrics and command
// registry. Plugins are not touched until a command needs them.
func (a *app) setup(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}

	cfg, err := config.NewLoader(a.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	a.metrics = metrics.NewMetrics()
	a.commands = command.NewRegistry()

	return a.registerCoreCommands()
}

// pluginManager builds the plugin manager and registers the lazy commands
// of every installed plugin
func (a *app) pluginManager() (*plugin.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}

	zl := a.log.GetZerolog()
	manager := plugin.NewManager(zl, plugin.ManagerConfig{
		PluginsDir:      a.cfg.PluginsDir,
		HostVersion:     version.Version,
		RPCStartTimeout: a.cfg.Hosts.RPCStartTimeout,
		NpmTimeout:      a.cfg.Installer.NpmTimeout,
		CloneTimeout:    a.cfg.Installer.CloneTimeout,
		BuildTimeout:    a.cfg.Installer.BuildTimeout,
		AllowBuild:      a.cfg.Installer.AllowBuild,
	}, a.commands, process.NewRunner(zl, a.cfg.Installer.CloneTimeout), a.metrics)

	result, err := manager.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize plugins: %w", err)
	}
	for name, err := range result.Errors {
		a.log.Warn().Err(err).Str("plugin", name).Msg("Plugin commands unavailable")
	}

	a.manager = manager
	return manager, nil
}

// close unloads plugins and closes the log file
func (a *app) close() {
	if a.manager != nil {
		a.manager.Shutdown(context.Background())
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}
