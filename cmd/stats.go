// File: cmd/stats.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/relock/internal/observability"
	"go.uber.org/zap"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate healing statistics from the persisted history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			healer, closer, err := newHealer(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer closer()

			stats := healer.Statistics()
			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode statistics: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

var cleanupOlderThan time.Duration

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old rejected healing records.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			healer, closer, err := newHealer(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer closer()

			removed := healer.Cleanup(cmd.Context(), cleanupOlderThan)
			if err := healer.SaveState(cmd.Context()); err != nil {
				logger.Warn("Failed to persist engine state", zap.Error(err))
			}

			logger.Info("Cleanup complete", zap.Int("removed", removed))
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Only rejected records older than this are removed.")
	return cmd
}

func init() {
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newCleanupCmd())
}
