package root

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(flags *globalFlags) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "reset <participant> <challenge|all>",
		Short: "Reset one challenge or every challenge of a participant",
		Long:  "Reset clears completion counts so challenges can be completed again. Rewards already granted are kept.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx := context.Background()
			participant, target := args[0], args[1]

			if target == "all" {
				cleared, err := c.ResetAll(ctx, flags.world, participant, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d challenges for %s\n", cleared, participant)
				return nil
			}

			if err := c.ResetChallenge(ctx, flags.world, participant, target, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s for %s\n", target, participant)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the audit trail (defaults to the API client)")
	return cmd
}
