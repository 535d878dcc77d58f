package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nlmcp/nlmcp/internal/citations"
	"github.com/nlmcp/nlmcp/internal/discovery"
)

func newDiscoverCmd(app *app) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "discover <notebook-url>",
		Short: "Ask a notebook to describe itself and print the metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer app.browsers.Close()
			defer app.registry.CloseAllSessions()

			d := discovery.NewDiscoverer(&notebookAsker{app: app}, app.log)
			meta, err := d.DiscoverMetadata(cmd.Context(), args[0], retries)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(meta, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 2, "extra attempts after the first")
	return cmd
}

// notebookAsker adapts the session registry to discovery.Asker.
type notebookAsker struct {
	app *app
}

func (a *notebookAsker) AskNotebook(ctx context.Context, notebookURL, question string) (string, error) {
	sess, err := newBoundSession(a.app, "", notebookURL)
	if err != nil {
		return "", err
	}
	res, err := a.app.registry.Ask(ctx, sess, question, citations.FormatNone)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}
