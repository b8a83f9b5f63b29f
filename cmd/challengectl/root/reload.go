package root

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReloadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload a world's challenge definitions on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			n, err := c.Reload(context.Background(), flags.world)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded %s: %d challenges\n", flags.world, n)
			return nil
		},
	}
}
