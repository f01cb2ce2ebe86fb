package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zammy/zammy/pkg/plugin"
)

func newPluginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Install and manage plugins",
	}

	cmd.AddCommand(
		newPluginInstallCmd(a),
		newPluginUninstallCmd(a),
		newPluginListCmd(a),
		newPluginInfoCmd(a),
		newPluginLoadCmd(a),
		newPluginWatchCmd(a),
	)
	return cmd
}

func newPluginInstallCmd(a *app) *cobra.Command {
	var (
		yes     bool
		noBuild bool
	)

	cmd := &cobra.Command{
		Use:   "install <source>",
		Short: "Install a plugin",
		Long: `Install a plugin from a local directory, an npm package, GitHub or a git URL.

Sources:
  ./path/to/plugin              local directory
  zammy-plugin-weather@1.2.0    npm package
  github:user/repo#branch       GitHub repository
  https://host/repo.git         any git URL

Requested permissions and command conflicts are shown before the plugin's
commands are enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noBuild {
				a.cfg.Installer.AllowBuild = false
			}

			manager, err := a.pluginManager()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			result, err := manager.Install(ctx, args[0])
			if err != nil {
				return fmt.Errorf("install failed: %w", err)
			}

			writeInstallSummary(out, result)

			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out, fmt.Sprintf("Enable %s?", result.Manifest.Title()))
				if err != nil {
					return err
				}
				if !ok {
					if err := manager.Uninstall(ctx, result.Manifest.Name); err != nil {
						return fmt.Errorf("failed to remove declined plugin: %w", err)
					}
					fmt.Fprintln(out, "Installation cancelled")
					return nil
				}
			}

			if err := manager.Activate(ctx, result); err != nil {
				if !plugin.IsKind(err, plugin.KindConflict) {
					return fmt.Errorf("failed to enable plugin: %w", err)
				}
				fmt.Fprintf(out, "Warning: %v\n", err)
			}

			fmt.Fprintf(out, "Installed %s %s\n", result.Manifest.Name, result.Manifest.Version)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "enable the plugin without asking")
	cmd.Flags().BoolVar(&noBuild, "no-build", false, "never run the package build script")
	return cmd
}

func writeInstallSummary(out io.Writer, result *plugin.InstallResult) {
	manifest := result.Manifest
	fmt.Fprintf(out, "%s %s (%s)\n", manifest.Title(), manifest.Version, result.Source)
	if manifest.Description != "" {
		fmt.Fprintf(out, "  %s\n", manifest.Description)
	}

	switch result.Change {
	case plugin.ChangeUpgrade:
		fmt.Fprintf(out, "Upgraded from %s\n", result.Previous)
	case plugin.ChangeDowngrade:
		fmt.Fprintf(out, "Downgraded from %s\n", result.Previous)
	case plugin.ChangeReinstall:
		fmt.Fprintf(out, "Reinstalled over %s\n", result.Previous)
	}

	fmt.Fprintln(out, "Permissions:")
	for _, line := range result.Permissions {
		fmt.Fprintf(out, "  %s\n", line)
	}

	if len(result.Conflicts) > 0 {
		fmt.Fprintln(out, "Command conflicts (these commands will not be available):")
		for _, conflict := range result.Conflicts {
			fmt.Fprintf(out, "  %s already provided by %s\n", conflict.Command, conflict.Owner)
		}
	}
}

// confirm asks a yes/no question; anything but y or yes declines
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func newPluginUninstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.pluginManager()
			if err != nil {
				return err
			}
			if err := manager.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", args[0])
			return nil
		},
	}
}

func newPluginListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.pluginManager()
			if err != nil {
				return err
			}

			statuses := manager.Plugins()
			if len(statuses) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No plugins installed in %s\n", manager.PluginsDir())
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tSTATE\tCOMMANDS")
			for _, status := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					status.Manifest.Name,
					status.Manifest.Version,
					stateLabel(status),
					strings.Join(status.Commands, ", "),
				)
			}
			return w.Flush()
		},
	}
}

func stateLabel(status plugin.PluginStatus) string {
	if !status.Loaded {
		return "installed"
	}
	return string(status.State)
}

func newPluginInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.pluginManager()
			if err != nil {
				return err
			}

			status, ok := manager.Plugin(args[0])
			if !ok {
				return fmt.Errorf("plugin %q is not installed", args[0])
			}

			out := cmd.OutOrStdout()
			manifest := status.Manifest
			fmt.Fprintf(out, "Name:        %s\n", manifest.Name)
			if manifest.DisplayName != "" {
				fmt.Fprintf(out, "Title:       %s\n", manifest.DisplayName)
			}
			fmt.Fprintf(out, "Version:     %s\n", manifest.Version)
			if manifest.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", manifest.Description)
			}
			fmt.Fprintf(out, "Path:        %s\n", status.Path)
			fmt.Fprintf(out, "Entry:       %s\n", manifest.Main)
			fmt.Fprintf(out, "State:       %s\n", stateLabel(status))
			fmt.Fprintf(out, "Commands:    %s\n", strings.Join(manifest.Commands, ", "))
			fmt.Fprintln(out, "Permissions:")
			for _, line := range manager.FormatPermissions(manifest) {
				fmt.Fprintf(out, "  %s\n", line)
			}
			if status.Err != nil {
				fmt.Fprintf(out, "Error:       %v\n", status.Err)
			}
			return nil
		},
	}
}

func newPluginLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <name>",
		Short: "Activate a plugin now instead of on first use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.pluginManager()
			if err != nil {
				return err
			}

			loaded, err := manager.LoadPlugin(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var names []string
			for _, c := range a.commands.ListByOwner(loaded.Manifest.Name) {
				names = append(names, c.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %s %s: %s\n",
				loaded.Manifest.Name, loaded.Manifest.Version, strings.Join(names, ", "))
			return nil
		},
	}
}
