package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/furisto/cadence/backend/env"
)

func NewEnvsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "envs",
		Short:   "List the registered games",
		GroupID: "system",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tGAME\tLOAD\tSEEDS")
			for _, info := range env.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", info.ID, info.Game, info.Load, info.Seeds)
			}
			return w.Flush()
		},
	}
}
