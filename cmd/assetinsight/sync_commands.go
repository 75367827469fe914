package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/assetinsight/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCommand(state *cli) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var run func(context.Context) (syncer.Report, error)
			switch mode {
			case syncer.ModeFull.String():
				run = state.app.Orchestrator.Sync
			case syncer.ModePullOnly.String():
				run = state.app.Orchestrator.PullOnly
			case syncer.ModePushOnly.String():
				run = state.app.Orchestrator.PushOnly
			default:
				return fmt.Errorf("%w: unknown mode %q", errUsage, mode)
			}
			report, err := run(cmd.Context())
			printReport(state, report)
			if err != nil {
				state.printf("sync failed (%s): %v\n", syncer.KindOf(err), err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", syncer.ModeFull.String(), "full, pull or push")
	return cmd
}

func newStatusCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active profile and pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			profile, ok, err := state.app.Profiles.Active(ctx)
			if err != nil {
				return err
			}
			if !ok {
				state.printf("not signed in\n")
			} else {
				state.printf("profile: %s (%s)\n", profile.Email, profile.ID)
				if profile.LastSyncTime == nil {
					state.printf("last sync: never\n")
				} else {
					state.printf("last sync: %s\n", time.UnixMilli(*profile.LastSyncTime).UTC().Format(time.RFC3339))
				}
				usable, err := state.app.Session.IsUsable(ctx)
				if err != nil {
					return err
				}
				state.printf("session usable: %t\n", usable)
			}
			pending, err := state.app.Orchestrator.PendingCount(ctx)
			if err != nil {
				return err
			}
			state.printf("pending changes: %d\n", pending)
			return nil
		},
	}
}

func newDaemonCommand(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Sync periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			state.logger.Info("sync daemon starting")
			err := state.app.Scheduler.Run(signalCtx)
			if errors.Is(err, context.Canceled) {
				state.logger.Info("sync daemon stopped")
				return nil
			}
			if err != nil {
				state.logger.Error("sync daemon failed", zap.Error(err))
			}
			return err
		},
	}
}

func printReport(state *cli, report syncer.Report) {
	state.printf("mode=%s pulled=%d applied=%d skipped=%d deleted=%d pushed=%d purged=%d",
		report.Mode,
		report.Pulled,
		report.Applied,
		report.Skipped,
		report.Deleted,
		report.PushedSnapshots+report.PushedCategories,
		report.Purged)
	if report.Watermark != nil {
		state.printf(" watermark=%d", *report.Watermark)
	}
	if len(report.MergeFailures) > 0 {
		state.printf(" merge_failures=%d", len(report.MergeFailures))
	}
	state.printf("\n")
}
