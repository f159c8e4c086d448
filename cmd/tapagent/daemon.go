package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taployalty/tapagent/internal/daemon"
	"github.com/taployalty/tapagent/internal/daemon/components"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the registry in background daemon mode",
	Long:  `Starts the registry as a long-running service using component lifecycle orchestration. It serves the merchant API, fires schedules and executes agent runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}
		daemonMgr.SetForceCleanup(forceClean)

		storeComp := components.NewStoreWorkerComponent(cfg.Daemon.DataPath, &cfg.Store)
		modelsComp := components.NewModelRouterComponent(&cfg.Models)
		registryComp := components.NewRegistryComponent(storeComp, &cfg.Upstream)
		runnerComp := components.NewRunnerComponent(storeComp, registryComp, modelsComp, &cfg.Runner, &cfg.Notify)
		schedulerComp := components.NewSchedulerComponent(storeComp, runnerComp, &cfg.Scheduler)
		httpComp := components.NewHTTPServerComponent(daemonMgr, cfg, storeComp, registryComp, modelsComp)

		daemonMgr.AddComponent(storeComp)
		daemonMgr.AddComponent(modelsComp)
		daemonMgr.AddComponent(registryComp)
		daemonMgr.AddComponent(runnerComp)
		daemonMgr.AddComponent(schedulerComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("Tap Agent daemon starting up...", "port", cfg.Server.Port)
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Tap Agent daemon stopped gracefully")
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Tap Agent daemon stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
}
