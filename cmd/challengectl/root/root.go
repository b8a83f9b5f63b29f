// Package root holds the challengectl commands.
package root

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/pkg/client"
)

const Version = "0.1.0"

type globalFlags struct {
	server  string
	apiKey  string
	world   string
	timeout time.Duration
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "challengectl",
		Short:         "Administer a challenge-engine server",
		Long:          "challengectl completes, resets and inspects participant challenge progress through the challenge-engine API.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.server, "server", envOr("CHALLENGE_ENGINE_URL", "http://localhost:8080"), "challenge-engine base URL")
	pf.StringVar(&flags.apiKey, "api-key", os.Getenv("CHALLENGE_ENGINE_API_KEY"), "API key")
	pf.StringVarP(&flags.world, "world", "w", os.Getenv("CHALLENGE_ENGINE_WORLD"), "world to operate on")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		newCompleteCmd(flags),
		newResetCmd(flags),
		newProgressCmd(flags),
		newReloadCmd(flags),
	)
	return cmd
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}

func (f *globalFlags) client() (*client.Client, error) {
	if f.world == "" {
		return nil, errors.New("world is required (--world or CHALLENGE_ENGINE_WORLD)")
	}
	return client.NewClient(f.server, f.apiKey, client.WithTimeout(f.timeout)), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
