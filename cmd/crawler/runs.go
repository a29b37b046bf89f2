package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alvmarrod/menu-weaver/internal/config"
	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// NewRunsCmd creates the command group for inspecting stored crawls
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored crawl runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored crawl runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runListCmd,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the aggregate of a stored crawl run",
		Args:  cobra.ExactArgs(1),
		RunE:  runShowCmd,
	})

	return cmd
}

// openStore opens the database named by --db, else by the config file, else the default
func openStore(cmd *cobra.Command) (*storage.Storage, error) {
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		cfg := config.DefaultConfig()
		if file, _ := cmd.Flags().GetString("config"); file != "" {
			if loaded, err := config.ReadConfig(file); err == nil {
				cfg = loaded
			}
		}
		path = cfg.DBPath
	}
	return storage.NewStorage(path)
}

func runListCmd(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListCrawls()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No crawl runs stored")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEED\tFINISHED\tREASON\tFETCHED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.SeedURL, r.FinishedAt.Format("2006-01-02 15:04:05"), r.TerminationReason, r.FetchedCount, r.FailedCount)
	}
	return w.Flush()
}

func runShowCmd(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.LoadCrawl(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("crawl run %d not found", id)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %d: %s (%s, %d fetched, %d failed, %d skipped)\n",
		run.ID, run.SeedURL, run.TerminationReason,
		run.Progress.FetchedCount, run.Progress.FailedCount, run.Progress.SkippedCount)
	printAggregate(cmd, run.Aggregate)
	return nil
}
