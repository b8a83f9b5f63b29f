package root

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/pkg/client"
)

func newCompleteCmd(flags *globalFlags) *cobra.Command {
	var (
		items map[string]int
		stats map[string]int64
		actor string
	)

	cmd := &cobra.Command{
		Use:   "complete <participant> <challenge>",
		Short: "Attempt to complete a challenge",
		Long: "Attempt to complete a challenge for a participant. Without --item or --stat " +
			"the server reads the participant's live state.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}

			req := client.CompleteRequest{Actor: actor}
			if len(items) > 0 || len(stats) > 0 {
				req.Snapshot = &models.Snapshot{Items: items, Statistics: stats}
			}

			res, err := c.Complete(context.Background(), flags.world, args[0], args[1], req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch res.Outcome {
			case "completed":
				fmt.Fprintf(out, "completed %s (count %d)\n", res.Challenge, res.NewCount)
				for _, r := range res.Rewards {
					fmt.Fprintf(out, "  reward %s %s x%d\n", r.Type, r.ID, r.Amount)
				}
				if res.GrantError != "" {
					fmt.Fprintf(out, "  warning: %s\n", res.GrantError)
				}
			case "unsatisfied":
				missing := make([]string, 0, len(res.Missing))
				for _, m := range res.Missing {
					missing = append(missing, string(m))
				}
				fmt.Fprintf(out, "requirements not met for %s: %s\n", res.Challenge, strings.Join(missing, ", "))
			default:
				fmt.Fprintf(out, "%s: %s (count %d)\n", res.Challenge, res.Outcome, res.NewCount)
			}
			return nil
		},
	}

	cmd.Flags().StringToIntVar(&items, "item", nil, "held item quantities, e.g. --item cobblestone=64")
	cmd.Flags().StringToInt64Var(&stats, "stat", nil, "statistic values, e.g. --stat zombie_kills=3")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded on the completion")
	return cmd
}
