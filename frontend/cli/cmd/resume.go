package cmd

import (
	"github.com/spf13/cobra"
)

func NewResumeCmd() *cobra.Command {
	options := runOptions{}
	cmd := &cobra.Command{
		Use:   "resume <checkpoint-dir> [flags]",
		Short: "Continue the episodes of an earlier run from its logs",
		Long: `Continue an interrupted run. Every episode log in the checkpoint directory is
replayed into a fresh game: finished episodes are reported as they were, the
others continue from the last tick that asked the slow model for a new plan.

The run must use the same setting as the checkpoint; a log that does not
replay to the same rewards aborts its episode.`,
		Example: `  cadence resume logs/freeway_E_8192_agile_4096_20250301_123000 --mode agile --per-tick 8192 --internal 4096`,
		Args:    cobra.ExactArgs(1),
		GroupID: "core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *getConfig(cmd.Context())
			options.apply(cmd, &cfg)
			cfg.Checkpoint = args[0]
			return runSettings(cmd.Context(), cmd.OutOrStdout(), &cfg, options.Settings)
		},
	}

	addRunFlags(cmd, &options)
	return cmd
}
