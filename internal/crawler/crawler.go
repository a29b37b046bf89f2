package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/alvmarrod/menu-weaver/internal/aggregate"
	"github.com/alvmarrod/menu-weaver/internal/config"
	"github.com/alvmarrod/menu-weaver/internal/metrics"
	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// idleBackoff is how long a worker waits before polling an empty frontier again
const idleBackoff = 20 * time.Millisecond

// Termination reasons reported in CrawlRun
const (
	ReasonDrained   = "drained"
	ReasonPageLimit = "page_limit"
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
)

// Job is one crawl of one site: it owns the frontier, the limiter, the
// aggregate and the progress tracker, and nothing is shared across jobs
type Job struct {
	cfg        *config.Config
	fetcher    Fetcher
	extractor  Extractor
	clock      Clock
	frontier   *Frontier
	limiter    *RateLimiter
	discoverer *LinkDiscoverer
	robots     *RobotsPolicy
	aggregator *aggregate.Aggregator
	tracker    *metrics.Tracker
	site       string

	respectRobots bool

	ctx    context.Context
	cancel context.CancelFunc

	reasonMu sync.Mutex
	reason   string
}

// JobOption configures a Job
type JobOption func(*Job)

// WithClock replaces the wall clock used for rate limiting and timestamps
func WithClock(clock Clock) JobOption {
	return func(j *Job) {
		j.clock = clock
	}
}

// WithTracker makes the job publish progress to an existing tracker
func WithTracker(tracker *metrics.Tracker) JobOption {
	return func(j *Job) {
		j.tracker = tracker
	}
}

// WithRobots enables robots.txt checks regardless of cfg.RespectRobotsTxt
func WithRobots() JobOption {
	return func(j *Job) {
		j.respectRobots = true
	}
}

// NewJob creates a crawl job for cfg.SeedURL. It fails only on an unusable seed.
func NewJob(cfg *config.Config, fetcher Fetcher, extractor Extractor, opts ...JobOption) (*Job, error) {
	j := &Job{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     SystemClock,

		respectRobots: cfg.RespectRobotsTxt,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.tracker == nil {
		j.tracker = metrics.NewTrackerWithClock(j.clock.Now)
	}

	filter, err := NewOriginFilter(cfg.SeedURL, cfg.OriginPolicy, cfg.AllowList)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}

	j.site, _ = Normalize(cfg.SeedURL, "")
	j.frontier = NewFrontier(cfg.MaxDepth, cfg.MaxPages, cfg.RetryLimit,
		WithFrontierClock(j.clock),
		WithObserver(j.tracker.Publish),
	)
	j.limiter = NewRateLimiter(cfg.RequestDelay(), j.clock)
	j.discoverer = NewLinkDiscoverer(filter)
	j.aggregator = aggregate.New(j.site, j.frontier, aggregate.WithNow(j.clock.Now))
	if j.respectRobots {
		j.robots = NewRobotsPolicy(fetcher, j.limiter, cfg.UserAgent)
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())

	return j, nil
}

// Frontier exposes the job's frontier for inspection
func (j *Job) Frontier() *Frontier {
	return j.frontier
}

// Snapshot returns the current progress; safe to call at any time from any goroutine
func (j *Job) Snapshot() storage.ProgressSnapshot {
	return j.tracker.Snapshot()
}

// Cancel stops the crawl: in-flight fetches finish, nothing new is claimed
func (j *Job) Cancel() {
	j.setReason(ReasonCancelled)
	j.cancel()
}

// Run crawls until the frontier drains, a limit is hit, ctx is done or the
// job is cancelled, and returns the (possibly partial) result. Page-level
// failures are recorded in the result; only misuse returns an error.
func (j *Job) Run(ctx context.Context) (*storage.CrawlRun, error) {
	seed, err := j.frontier.Seed(j.cfg.SeedURL)
	if err != nil {
		return nil, err
	}

	startedAt := j.clock.Now()
	j.tracker.Start()

	stopParent := context.AfterFunc(ctx, func() {
		j.setReason(ReasonCancelled)
		j.cancel()
	})
	defer stopParent()
	stopClose := context.AfterFunc(j.ctx, j.frontier.Close)
	defer stopClose()
	if timeout := j.cfg.CrawlTimeout(); timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			j.setReason(ReasonTimeout)
			j.cancel()
		})
		defer timer.Stop()
	}

	logrus.Infof("Starting crawl of %s with %d workers (max_depth=%d, max_pages=%d, policy=%s)",
		seed, j.cfg.ConcurrentWorkers, j.cfg.MaxDepth, j.cfg.MaxPages, j.cfg.OriginPolicy)

	var g errgroup.Group
	for i := 0; i < j.cfg.ConcurrentWorkers; i++ {
		id := i + 1
		g.Go(func() error {
			return j.worker(id)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Workers only exit once the frontier is drained or the job was cancelled,
	// in which case Close has skipped everything still pending
	j.frontier.Close()
	j.tracker.Finish()

	result, err := j.aggregator.Finalize()
	if err != nil {
		return nil, err
	}

	if j.frontier.BudgetExhausted() {
		j.setReason(ReasonPageLimit)
	}
	j.setReason(ReasonDrained)

	run := &storage.CrawlRun{
		SeedURL:           seed,
		Site:              j.site,
		StartedAt:         startedAt,
		FinishedAt:        j.clock.Now(),
		TerminationReason: j.terminationReason(),
		Aggregate:         result,
		Progress:          j.tracker.Snapshot(),
		Nodes:             j.frontier.Nodes(),
	}

	logrus.Infof("Crawl of %s finished (%s): %d fetched, %d failed, %d skipped, %d fields, %d hosts contacted",
		seed, run.TerminationReason, run.Progress.FetchedCount, run.Progress.FailedCount,
		run.Progress.SkippedCount, len(result.Fields), j.limiter.Hosts())

	return run, nil
}

// worker claims nodes until the frontier is drained or the job is cancelled
func (j *Job) worker(id int) error {
	logrus.Debugf("Worker %d started", id)

	for {
		node, ok := j.frontier.ClaimNext()
		if !ok {
			if j.frontier.IsDrained() {
				logrus.Debugf("Worker %d: frontier drained, exiting", id)
				return nil
			}
			// A closed frontier hands out nothing more
			if j.ctx.Err() != nil || j.frontier.isClosed() {
				logrus.Debugf("Worker %d: crawl cancelled, exiting", id)
				return nil
			}
			// Other workers may still add pages
			select {
			case <-j.clock.After(idleBackoff):
			case <-j.ctx.Done():
			}
			continue
		}

		if err := j.process(id, node); err != nil {
			return err
		}
	}
}

// process fetches one claimed node and reports its outcome to the frontier.
// The returned error is a frontier contract violation, never a page failure.
func (j *Job) process(id int, node storage.PageNode) error {
	log := logrus.WithFields(logrus.Fields{
		"worker":  id,
		"url":     node.URL,
		"depth":   node.Depth,
		"attempt": node.FetchAttempts,
	})

	if j.robots != nil {
		allowed, err := j.robots.Allowed(j.ctx, node.URL)
		if err != nil {
			return j.frontier.Skip(node.URL, "crawl cancelled")
		}
		if !allowed {
			log.Info("Disallowed by robots.txt, skipping")
			return j.frontier.Skip(node.URL, "disallowed by robots.txt")
		}
	}

	// No token, no request
	if err := j.limiter.Acquire(j.ctx, node.URL); err != nil {
		log.Debug("Cancelled while waiting for rate limiter")
		return j.frontier.Skip(node.URL, "crawl cancelled")
	}

	start := j.clock.Now()
	resp, err := j.fetch(node.URL)
	j.tracker.RecordFetchTime(j.clock.Now().Sub(start))

	if err != nil {
		outcome := OutcomeFailed
		if !IsRetryable(err) {
			outcome = OutcomeFailedPermanent
		}
		log.Warnf("Fetch failed: %v", err)
		return j.frontier.Complete(node.URL, outcome, err)
	}

	base := resp.URL
	if base == "" {
		base = node.URL
	}
	if node.Depth < j.cfg.MaxDepth {
		admitted := j.discoverer.Forward(j.frontier, resp.Body, base, node.URL)
		log.Debugf("Discovered %d new links", admitted)
	}

	record, err := j.extractor.Extract(resp.Body, node.URL)
	if err != nil {
		extractErr := &ExtractionError{URL: node.URL, Err: err}
		log.Warn(extractErr.Error())
		j.tracker.IncrementExtractionErrors()
		return j.frontier.Complete(node.URL, OutcomeFetched, nil)
	}
	record.SourceURL = node.URL
	j.aggregator.Merge(record)

	log.Infof("Fetched page (status=%d, fields=%d)", resp.StatusCode, len(record.Fields))
	return j.frontier.Complete(node.URL, OutcomeFetched, nil)
}

// fetch runs one request bounded by the request timeout even when the fetcher
// ignores its context; a result arriving after the deadline is dropped.
// Cancellation never aborts a request already started.
func (j *Job) fetch(url string) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), j.cfg.RequestTimeout())
	defer cancel()

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := j.fetcher.Fetch(ctx, url)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, &FetchError{URL: url, Retryable: true, Err: ctx.Err()}
	}
}

// setReason records the first termination reason only
func (j *Job) setReason(reason string) {
	j.reasonMu.Lock()
	defer j.reasonMu.Unlock()
	if j.reason == "" {
		j.reason = reason
	}
}

func (j *Job) terminationReason() string {
	j.reasonMu.Lock()
	defer j.reasonMu.Unlock()
	return j.reason
}

// IsContractViolation reports whether err from Run signals API misuse
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrAlreadySeeded) || errors.Is(err, ErrNotFetching) ||
		errors.Is(err, ErrUnknownURL) || errors.Is(err, aggregate.ErrCrawlIncomplete)
}
