package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/rfiscope/pkg/sdk"
)

// options shared by every subcommand
type rootOptions struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rfictl",
		Short:         "Administer an rfiscope RFI server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("RFISCOPE_SERVER")
	if server == "" {
		server = sdk.DefaultServer
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", server, "rfiscope server URL (env RFISCOPE_SERVER)")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("RFISCOPE_API_KEY"), "bearer token sent to the server")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Hour, "overall timeout for the command")

	cmd.AddCommand(
		newBackfillCmd(opts),
		newImportCmd(opts),
		newSessionsCmd(opts),
		newSynthCmd(opts),
	)
	return cmd
}

func (o *rootOptions) client() (*sdk.Client, error) {
	return sdk.New(sdk.ClientConfig{Server: o.server, APIKey: o.apiKey})
}
