// Package cli implements the nlmcp command tree.
package cli

import "github.com/spf13/cobra"

const version = "0.1.0"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "nlmcp",
		Short:         "NotebookLM automation: MCP server, accounts, and auto-login",
		Long:          "nlmcp drives NotebookLM through a real browser: it manages encrypted Google accounts, logs them in automatically, and serves notebook Q&A over the Model Context Protocol.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newServeCmd(app),
		newAskCmd(app),
		newLoginCmd(app),
		newSessionsCmd(app),
		newAccountCmd(app),
		newDiscoverCmd(app),
	)

	return rootCmd
}
