package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSessionsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "Show session registry limits and any active sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats := app.registry.GetStats()
			fmt.Fprintf(cmd.OutOrStdout(), "active: %d/%d, timeout: %.0f min, total messages: %d\n",
				stats.ActiveSessions, stats.MaxSessions, stats.SessionTimeout, stats.TotalMessages)

			infos := app.registry.GetAllSessionsInfo()
			if len(infos) == 0 {
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNOTEBOOK\tACCOUNT\tMESSAGES\tIDLE")
			for _, info := range infos {
				account := info.AccountID
				if account == "" {
					account = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%ds\n",
					info.ID, info.NotebookURL, account, info.MessageCount, info.InactiveSeconds)
			}
			return w.Flush()
		},
	}
}
