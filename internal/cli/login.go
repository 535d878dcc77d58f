package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nlmcp/nlmcp/internal/autologin"
)

func newLoginCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login [account-id]",
		Short: "Log an account into NotebookLM and save its session state",
		Long:  "Runs the automated Google sign-in flow for the given account, or for the best rotation pick when no id is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.browsers.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), app.cfg.AutoLoginLimit)
			defer cancel()

			var res autologin.Result
			if len(args) == 1 {
				res = app.engine.LoginAccount(ctx, args[0])
			} else {
				res = app.engine.LoginBestAccount(ctx)
			}

			if res.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "logged in %s in %s\n", res.AccountID, res.Duration.Round(time.Millisecond))
				return nil
			}
			if res.RequiresManualIntervention {
				fmt.Fprintln(cmd.ErrOrStderr(), "automation could not finish this login; sign in manually once with NLMCP_HEADLESS=false")
			}
			return fmt.Errorf("login failed: %w", res.Err)
		},
	}
}
