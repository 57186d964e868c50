package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/retail-sync/internal/config"
	"github.com/withObsrvr/retail-sync/internal/metrics"
	"github.com/withObsrvr/retail-sync/internal/pipeline"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		force       bool
		destination string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one sync and exit",
		Long: `Run one sync and exit with a status describing the outcome:
  0  source unchanged, or another run holds the lock
  1  new artifacts published
  2  fetch or authentication failure
  3  source schema failure
  4  artifact write failure
  5  cancelled
  6  configuration or internal failure`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, func(c *config.Config) {
				if destination != "" {
					c.Destination = destination
				}
				if force {
					c.ForceRefresh = true
				}
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if cfg.Metrics.Enabled {
				metrics.Init(cfg.Metrics.Namespace)
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return asExit(nil, err)
			}
			defer a.Close()

			return asExit(a.runner.Run(ctx, a.req))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "republish even when the source is unchanged")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "artifact destination (path or gs://, s3:// URL)")
	return cmd
}

func daemonCmd(flags *globalFlags) *cobra.Command {
	var (
		interval    time.Duration
		destination string
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run a sync every interval until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, func(c *config.Config) {
				if cmd.Flags().Changed("interval") {
					c.Interval = interval
				}
				if destination != "" {
					c.Destination = destination
				}
			})
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if cfg.Metrics.Enabled {
				metrics.Init(cfg.Metrics.Namespace)
				go func() {
					slog.Info("serving metrics", "address", cfg.Metrics.Address)
					if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil {
						slog.Error("metrics server failed", "error", err)
					}
				}()
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return asExit(nil, err)
			}
			defer a.Close()

			s := pipeline.NewScheduler(a.runner, cfg.Interval, a.req)
			if err := s.Run(ctx); err != nil {
				return &exitError{code: pipeline.ExitInternal, err: err}
			}
			slog.Info("daemon stopped cleanly")
			return nil
		},
	}

	cmd.Flags().DurationVarP(&interval, "interval", "i", 15*time.Minute, "time between runs")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "artifact destination (path or gs://, s3:// URL)")
	return cmd
}
