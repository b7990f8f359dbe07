package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropwatch/dropwatch/internal/monitoring"
)

var (
	refreshLoop  bool
	refreshForce bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run a reconciliation pass over all tracked items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if refreshForce {
			// Zero TTL disables the batch response cache for this run.
			cfg.History.CacheTTLMins = 0
		}

		env, err := initEngine(ctx, "refresh")
		if err != nil {
			return err
		}
		defer env.Close()

		if !refreshLoop {
			snap, err := env.engine.RunPass(ctx)
			if err != nil {
				return err
			}
			printPass(snap)
			return nil
		}

		checker := monitoring.NewChecker(env.engine.Metrics(), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		interval := time.Duration(cfg.Refresh.IntervalMins) * time.Minute
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		zap.L().Info("refresh loop started", zap.Duration("interval", interval))
		for {
			snap, err := env.engine.RunPass(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				zap.L().Error("refresh pass failed", zap.Error(err))
			} else {
				printPass(snap)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func printPass(snap *monitoring.MetricsSnapshot) {
	fmt.Printf("pass complete in %s: %d refreshed, %d failed, %d signals accepted, %d rejected, %d notifications, %d anomalies corrected\n",
		snap.PassDuration.Round(time.Millisecond),
		snap.ItemsRefreshed, snap.ItemsFailed,
		snap.SignalsAccepted, snap.SignalsRejected,
		snap.NotificationsEmitted, snap.AnomaliesCorrected,
	)
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshLoop, "loop", false, "keep refreshing on the configured interval")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "bypass the historical batch response cache")
	rootCmd.AddCommand(refreshCmd)
}
