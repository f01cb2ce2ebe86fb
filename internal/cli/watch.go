package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zammy/zammy/pkg/plugin"
)

func newPluginWatchCmd(a *app) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload plugins when the plugins directory changes",
		Long: `Watch the plugins directory and refresh the command registry whenever
plugins are added, removed or replaced. With --metrics-addr, Prometheus
metrics are served on /metrics until the watch stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.pluginManager()
			if err != nil {
				return err
			}

			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			zl := a.log.GetZerolog()

			watcher, err := plugin.NewWatcher(zl, plugin.WatcherConfig{
				PluginsDir: manager.PluginsDir(),
				Debounce:   a.cfg.Watch.Debounce,
				OnChange: func() error {
					result, err := manager.Refresh(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Plugins refreshed: %d installed, %d failed\n",
						len(result.Discovered), len(result.Failed))
					return nil
				},
			})
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			if metricsAddr != "" {
				listener, err := net.Listen("tcp", metricsAddr)
				if err != nil {
					return fmt.Errorf("failed to listen on %s: %w", metricsAddr, err)
				}

				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

				go func() {
					if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
						zl.Error().Err(err).Msg("Metrics server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()

				fmt.Fprintf(out, "Serving metrics on http://%s/metrics\n", listener.Addr())
			}

			fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", manager.PluginsDir())
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
