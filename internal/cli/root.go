// Package cli implements vowclient, a terminal peer for a vow session.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// Execute runs the root command. SIGINT and SIGTERM cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

type globalOptions struct {
	server string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "vowclient",
		Short:         "Terminal peer for vow sessions",
		Long:          "vowclient creates and joins vow sessions over the HTTP API and takes part in the realtime channel: it can listen to live events, contribute to the vow thread and mark modules complete.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	server := os.Getenv("VOW_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Server base URL (env VOW_SERVER)")

	rootCmd.AddCommand(
		newCreateCmd(opts),
		newJoinCmd(opts),
		newCardCmd(opts),
		newListenCmd(opts),
		newContributeCmd(opts),
		newCompleteCmd(opts),
	)

	return rootCmd
}
