package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zammy/zammy/internal/version"
	"github.com/zammy/zammy/pkg/command"
)

// registerCoreCommands adds the commands built into the host. Plugins
// cannot take these names.
func (a *app) registerCoreCommands() error {
	core := []command.Command{
		{
			Name:        "help",
			Description: "List available commands",
			Usage:       "help",
			Execute: func(ctx context.Context, args []string, out io.Writer) error {
				return writeCommandTable(out, a.commands.List())
			},
		},
		{
			Name:        "version",
			Description: "Show the zammy version",
			Usage:       "version",
			Execute: func(ctx context.Context, args []string, out io.Writer) error {
				_, err := fmt.Fprintln(out, version.String())
				return err
			},
		},
	}

	for _, cmd := range core {
		if err := a.commands.Register(cmd, command.CoreOwner); err != nil {
			return fmt.Errorf("failed to register core command %s: %w", cmd.Name, err)
		}
	}
	return nil
}

func writeCommandTable(out io.Writer, commands []command.Command) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMMAND\tOWNER\tDESCRIPTION")
	for _, cmd := range commands {
		fmt.Fprintf(w, "%s\t%s\t%s\n", cmd.Name, cmd.Owner, cmd.Description)
	}
	return w.Flush()
}

func newCommandsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List registered commands",
		Long: `List core commands and the commands of every installed plugin.
Plugin commands activate their plugin the first time they run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.pluginManager(); err != nil {
				return err
			}
			return writeCommandTable(cmd.OutOrStdout(), a.commands.List())
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Run a registered command",
		Long: `Run a core or plugin command. Everything after the command name is
passed to the command unchanged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.pluginManager(); err != nil {
				return err
			}

			name := args[0]
			registered, ok := a.commands.Get(name)
			if !ok {
				return fmt.Errorf("unknown command %q, run 'zammy commands' to list available commands", name)
			}

			err := a.commands.Execute(cmd.Context(), name, args[1:], cmd.OutOrStdout())
			a.metrics.CommandExecuted(name, registered.Owner, err)
			return err
		},
	}

	// flags after the command name belong to the command
	cmd.Flags().SetInterspersed(false)
	return cmd
}
