package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alvmarrod/menu-weaver/internal/version"
)

// NewRootCmd creates the root command. Run without a subcommand it crawls one site.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawler [seed-url]",
		Short: "Crawl a restaurant website and aggregate what it says about the venue",
		Long: `crawler walks a restaurant's website breadth-first from a seed URL,
extracts venue details from every page (name, contact, address, hours, menu,
social profiles) and merges them into one record, keeping for every field the
pages it came from and any conflicting values.

Settings come from a JSON or YAML config file; flags override the file.`,
		Version:       version.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCrawlCmd,
	}

	cmd.PersistentFlags().StringP("config", "c", "config.json", "Configuration file (JSON or YAML)")
	cmd.PersistentFlags().String("db", "", "SQLite database path (overrides db_path)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	addCrawlFlags(cmd)

	cmd.AddCommand(NewRunsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "menu-weaver version %s (commit %s)\n", version.Version, version.Commit())
		},
	}
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
