package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/the-vow/backend/api/handlers"
)

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var req handlers.CreateSessionRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and print its join code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			endpoint, err := apiURL(opts.server, "session", "create")
			if err != nil {
				return err
			}
			var resp handlers.SessionEnvelope
			if err := doRequest(cmd.Context(), http.MethodPost, endpoint, req, &resp); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp.Session)
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Session ID (default: generated)")
	cmd.Flags().StringVar(&req.Code, "code", "", "Join code (default: generated)")

	return cmd
}

func newJoinCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "join <code>",
		Short: "Look up a session by its join code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := apiURL(opts.server, "session", "join")
			if err != nil {
				return err
			}
			var resp handlers.SessionEnvelope
			if err := doRequest(cmd.Context(), http.MethodPost, endpoint, handlers.JoinSessionRequest{Code: args[0]}, &resp); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp.Session)
		},
	}
}

func newCardCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "card <session-id>",
		Short: "Print the vow card of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, err := apiURL(opts.server, "session", args[0])
			if err != nil {
				return err
			}
			var resp handlers.SessionCardResponse
			if err := doRequest(cmd.Context(), http.MethodGet, endpoint, nil, &resp); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp.VowCard)
		},
	}
}
