package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nlmcp/nlmcp/internal/accounts"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the Google account pool",
	}

	cmd.AddCommand(
		newAccountAddCmd(app),
		newAccountListCmd(app),
		newAccountRemoveCmd(app),
		newAccountHealthCmd(app),
		newAccountStrategyCmd(app),
	)

	return cmd
}

func newAccountAddCmd(app *app) *cobra.Command {
	var (
		email      string
		password   string
		totpSecret string
		priority   int
		notes      string
		disabled   bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account with encrypted credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			var opts []accounts.AddOption
			if priority != 0 {
				opts = append(opts, accounts.WithPriority(priority))
			}
			if notes != "" {
				opts = append(opts, accounts.WithNotes(notes))
			}
			if disabled {
				opts = append(opts, accounts.WithDisabled())
			}

			id, err := app.store.AddAccount(email, password, totpSecret, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", id, email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Google account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (stored encrypted)")
	cmd.Flags().StringVar(&totpSecret, "totp-secret", "", "TOTP secret for two-factor accounts")
	cmd.Flags().IntVar(&priority, "priority", 0, "failover priority, lower is tried first")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the account disabled")
	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all := app.store.ListAccounts()
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no accounts configured")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tENABLED\tQUOTA\tSESSION\tFAILURES")
			for _, acct := range all {
				fmt.Fprintf(w, "%s\t%s\t%v\t%d/%d\t%s\t%d\n",
					acct.Config.ID,
					acct.Config.Email,
					acct.Config.Enabled,
					acct.Quota.Used, acct.Quota.Limit,
					acct.State.SessionStatus,
					acct.State.ConsecutiveFailures,
				)
			}
			return w.Flush()
		},
	}
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove an account and its stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := app.store.RemoveAccount(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no account %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newAccountHealthCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show per-account quota and session health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			health := app.store.HealthCheck()
			if len(health) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no accounts configured")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tQUOTA LEFT\tSESSION\tISSUES")
			for _, h := range health {
				issues := "-"
				if len(h.Issues) > 0 {
					issues = strings.Join(h.Issues, "; ")
				}
				fmt.Fprintf(w, "%s\t%s\t%d (%.0f%%)\t%v\t%s\n",
					h.AccountID, h.Email, h.QuotaRemaining, h.QuotaPercent, h.SessionValid, issues)
			}
			return w.Flush()
		},
	}
}

func newAccountStrategyCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strategy [least_used|round_robin|failover|random]",
		Short: "Show or set the rotation strategy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), app.store.RotationStrategy())
				return nil
			}
			if err := app.store.SetRotationStrategy(accounts.Strategy(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rotation strategy set to %s\n", args[0])
			return nil
		},
	}
}
