package root

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/internal/models"
)

func newProgressCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress <participant>",
		Short: "Show a participant's completions and level status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx := context.Background()
			participant := args[0]

			records, err := c.Progress(ctx, flags.world, participant)
			if err != nil {
				return err
			}
			levels, err := c.Levels(ctx, flags.world, participant)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHALLENGE\tCOUNT\tLAST COMPLETED")
			for _, rec := range records {
				last := "-"
				if rec.LastCompletedAt != nil {
					last = rec.LastCompletedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", models.ShortName(flags.world, rec.Challenge), rec.CompletionCount, last)
			}
			if len(levels) > 0 {
				fmt.Fprintln(tw, "\nLEVEL\tDONE\tSTATE")
				for _, lvl := range levels {
					fmt.Fprintf(tw, "%s\t%d/%d\t%s\n", lvl.FriendlyName, lvl.Completed, lvl.Total, levelState(lvl))
				}
			}
			return tw.Flush()
		},
	}
	return cmd
}

func levelState(lvl models.LevelStatus) string {
	switch {
	case lvl.Complete:
		return "complete"
	case lvl.Unlocked:
		return "unlocked"
	default:
		return "locked"
	}
}
