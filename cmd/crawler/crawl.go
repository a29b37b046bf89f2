package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alvmarrod/menu-weaver/internal/config"
	"github.com/alvmarrod/menu-weaver/internal/crawler"
	"github.com/alvmarrod/menu-weaver/internal/extract"
	"github.com/alvmarrod/menu-weaver/internal/metrics"
	"github.com/alvmarrod/menu-weaver/internal/storage"
	"github.com/alvmarrod/menu-weaver/internal/version"
)

const progressInterval = 10 * time.Second

func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("depth", "d", 0, "Maximum link depth from the seed")
	cmd.Flags().IntP("max-pages", "p", 0, "Maximum number of pages to fetch")
	cmd.Flags().IntP("workers", "w", 0, "Number of concurrent fetch workers")
	cmd.Flags().Int("delay-ms", 0, "Minimum milliseconds between requests to one origin")
	cmd.Flags().Int("retries", 0, "Retries for transient fetch failures")
	cmd.Flags().Duration("timeout", 0, "Per-request timeout")
	cmd.Flags().Duration("crawl-timeout", 0, "Bound on the whole crawl (0 = none)")
	cmd.Flags().String("policy", "", "Origin policy: same_host, same_registrable_domain, same_host_and_path_prefix")
	cmd.Flags().StringSlice("allow", nil, "Extra URL prefixes to crawl regardless of origin policy")
	cmd.Flags().Bool("robots", false, "Honor robots.txt")
	cmd.Flags().String("metrics", "", "Metrics file path (overrides metrics_path)")
}

// buildConfig loads the config file (when present) and applies flag overrides
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.ReadConfig(path)
	if err != nil {
		// The default config file is optional when the seed comes from the command line
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if len(args) > 0 {
		cfg.SeedURL = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("depth") {
		cfg.MaxDepth, _ = flags.GetInt("depth")
	}
	if flags.Changed("max-pages") {
		cfg.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("workers") {
		cfg.ConcurrentWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("delay-ms") {
		cfg.RequestDelayMs, _ = flags.GetInt("delay-ms")
	}
	if flags.Changed("retries") {
		cfg.RetryLimit, _ = flags.GetInt("retries")
	}
	if flags.Changed("timeout") {
		d, _ := flags.GetDuration("timeout")
		cfg.RequestTimeoutMs = int(d.Milliseconds())
	}
	if flags.Changed("crawl-timeout") {
		d, _ := flags.GetDuration("crawl-timeout")
		cfg.CrawlTimeoutMs = int(d.Milliseconds())
	}
	if flags.Changed("policy") {
		name, _ := flags.GetString("policy")
		policy, err := config.ParseOriginPolicy(name)
		if err != nil {
			return nil, err
		}
		cfg.OriginPolicy = policy
	}
	if flags.Changed("allow") {
		cfg.AllowList, _ = flags.GetStringSlice("allow")
	}
	if flags.Changed("robots") {
		cfg.RespectRobotsTxt, _ = flags.GetBool("robots")
	}
	if flags.Changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if flags.Changed("metrics") {
		cfg.MetricsPath, _ = flags.GetString("metrics")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)
	logrus.Infof("Menu Weaver v%s starting...", version.Version)
	logrus.Infof("Configuration loaded: seed=%s, depth=%d, pages=%d, workers=%d",
		cfg.SeedURL, cfg.MaxDepth, cfg.MaxPages, cfg.ConcurrentWorkers)

	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	tracker := metrics.NewTracker()
	job, err := crawler.NewJob(cfg, crawler.NewCollyFetcher(cfg), extract.NewRestaurant(),
		crawler.WithTracker(tracker))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	done := make(chan struct{})
	defer close(done)
	handleSignals(job, tracker, cfg.MetricsPath, done)
	go logProgress(tracker, done)

	run, err := job.Run(ctx)
	if err != nil {
		if crawler.IsContractViolation(err) {
			return fmt.Errorf("crawl aborted by an internal error (please report it): %w", err)
		}
		return fmt.Errorf("crawl failed: %w", err)
	}

	logrus.Info("Final stats: " + tracker.LogProgress())

	id, err := store.SaveCrawl(run)
	if err != nil {
		logrus.Errorf("Failed to save crawl: %v", err)
	} else {
		logrus.Infof("Crawl saved as run %d", id)
	}

	if err := tracker.WriteToFile(cfg.MetricsPath, run.TerminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	printAggregate(cmd, run.Aggregate)
	return nil
}

// handleSignals cancels the job on the first signal and exits on the second
func handleSignals(job *crawler.Job, tracker *metrics.Tracker, metricsPath string, done <-chan struct{}) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logrus.Infof("Received signal: %v", sig)
			logrus.Info("Stopping crawl, waiting for in-flight pages...")
			job.Cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
			if err := tracker.WriteToFile(metricsPath, "forced_exit"); err != nil {
				logrus.Errorf("Emergency metrics save failed: %v", err)
			}
			os.Exit(1)
		case <-done:
		}
	}()
}

func logProgress(tracker *metrics.Tracker, done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logrus.Info(tracker.LogProgress())
		case <-done:
			return
		}
	}
}

func printAggregate(cmd *cobra.Command, result storage.AggregateResult) {
	out := cmd.OutOrStdout()
	if result.Empty() {
		fmt.Fprintf(out, "No details found for %s\n", result.Site)
		return
	}

	fmt.Fprintf(out, "%s (%d pages)\n", result.Site, len(result.Pages))
	for _, name := range result.FieldNames() {
		field := result.Fields[name]
		fmt.Fprintf(out, "  %-18s %s (%.2f)\n", name, field.Value, field.Confidence)
		fmt.Fprintf(out, "  %-18s from %s\n", "", strings.Join(field.Provenance, ", "))
		for _, c := range field.Conflicts {
			fmt.Fprintf(out, "  %-18s conflict: %q on %s (%.2f)\n", "", c.Value, c.SourceURL, c.Confidence)
		}
	}
}
