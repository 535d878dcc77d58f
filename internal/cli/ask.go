package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nlmcp/nlmcp/internal/citations"
	"github.com/nlmcp/nlmcp/internal/session"
)

func newAskCmd(app *app) *cobra.Command {
	var (
		sessionID string
		format    string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "ask <notebook-url> <question>",
		Short: "Ask a notebook one question and print the answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.browsers.Close()
			defer app.registry.CloseAllSessions()

			sess, err := newBoundSession(app, sessionID, args[0])
			if err != nil {
				return err
			}

			res, err := app.registry.Ask(cmd.Context(), sess, args[1], citations.Format(format))
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.FormattedAnswer)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to reuse")
	cmd.Flags().StringVar(&format, "format", string(citations.FormatNone), "citation format: none, inline, footnotes, expanded, json")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

// newBoundSession creates (or fetches) a session, bound to the best rotation
// pick when accounts are configured.
func newBoundSession(app *app, sessionID, notebookURL string) (*session.Session, error) {
	var opts []session.Option
	if app.store.HasAccounts() {
		sel, err := app.store.GetBestAccount()
		if err == nil && sel != nil {
			opts = append(opts, session.WithAccount(sel.Account.Config.ID, sel.Account.ProfileDir))
			app.log.Info().
				Str("account", sel.Account.Config.Email).
				Str("reason", sel.Reason).
				Msg("using account")
		}
	}
	return app.registry.GetOrCreateSession(sessionID, notebookURL, opts...)
}
