package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "waitwiki",
		Short:         "Knowledge cards while you wait",
		Long:          "waitwiki keeps a local cache of short cards (Wikipedia summaries, quotes, facts, advice and more) and shows one at a time without repeating itself.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default $XDG_CONFIG_HOME/waitwiki/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "stderr log level for non-interactive commands")

	root.AddCommand(
		newTUICmd(flags),
		newCardCmd(flags),
		newServeCmd(flags),
		newStatsCmd(flags),
		newEventsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "waitwiki %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
