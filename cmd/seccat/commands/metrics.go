package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/seccat/internal/metrics"
)

func NewMetricsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Prometheus metrics",
	}
	cmd.AddCommand(newMetricsServeCommand(env))
	return cmd
}

func newMetricsServeCommand(env *Env) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.load(); err != nil {
				return err
			}

			serverCfg := env.Config.Definition.Metrics
			serverCfg.Enabled = true
			if listen != "" {
				serverCfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveMetrics(ctx, cmd, env, serverCfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides metrics.listen)")
	return cmd
}

// serveMetrics blocks until ctx is done.
func serveMetrics(ctx context.Context, cmd *cobra.Command, env *Env, cfg metrics.ServerConfig) error {
	server := metrics.NewServer(cfg)
	if err := server.Start(); err != nil {
		return err
	}
	env.logger().Info("Serving metrics on http://%s%s", server.Addr(), cfg.Path)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), server.Addr())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
