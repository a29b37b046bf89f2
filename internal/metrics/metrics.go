package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// Tracker exposes a live, lock-free view of a crawl's progress.
// Writers publish immutable counts; readers load them without ever waiting on a writer.
type Tracker struct {
	now func() time.Time

	start            atomic.Pointer[time.Time]
	counts           atomic.Pointer[storage.FrontierCounts]
	end              atomic.Pointer[time.Time]
	extractionErrors atomic.Int64
	totalFetchTimeMs atomic.Int64
	fetchCount       atomic.Int64
}

// NewTracker creates a new metrics tracker starting now
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock creates a tracker reading time from now
func NewTrackerWithClock(now func() time.Time) *Tracker {
	t := &Tracker{now: now}
	t.Start()
	t.counts.Store(&storage.FrontierCounts{})
	return t
}

// Start resets the crawl start time to now
func (t *Tracker) Start() {
	start := t.now()
	t.start.Store(&start)
}

// Publish replaces the current counts. It is the frontier's transition observer.
func (t *Tracker) Publish(counts storage.FrontierCounts) {
	t.counts.Store(&counts)
}

// IncrementExtractionErrors counts a page whose extraction failed
func (t *Tracker) IncrementExtractionErrors() {
	t.extractionErrors.Add(1)
}

// RecordFetchTime records a page fetch duration
func (t *Tracker) RecordFetchTime(duration time.Duration) {
	t.totalFetchTimeMs.Add(duration.Milliseconds())
	t.fetchCount.Add(1)
}

// Finish freezes the elapsed time; later snapshots report the crawl duration
func (t *Tracker) Finish() {
	end := t.now()
	t.end.CompareAndSwap(nil, &end)
}

// Snapshot returns a consistent point-in-time view of the crawl
func (t *Tracker) Snapshot() storage.ProgressSnapshot {
	counts := t.counts.Load()
	now := t.now()
	if end := t.end.Load(); end != nil {
		now = *end
	}

	snapshot := storage.ProgressSnapshot{
		FetchedCount:     counts.Fetched,
		FailedCount:      counts.Failed,
		PendingCount:     counts.Pending,
		FetchingCount:    counts.Fetching,
		SkippedCount:     counts.Skipped,
		DiscoveredCount:  counts.Discovered,
		CurrentDepth:     counts.CurrentDepth,
		ElapsedMs:        now.Sub(*t.start.Load()).Milliseconds(),
		ExtractionErrors: t.extractionErrors.Load(),
	}

	if n := t.fetchCount.Load(); n > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs.Load() / n
	}

	return snapshot
}

// fileMetrics is the JSON layout of the metrics file
type fileMetrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	TerminationReason string    `json:"termination_reason"`
	storage.ProgressSnapshot
}

// WriteToFile exports the current snapshot to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	data := fileMetrics{
		StartTime:         *t.start.Load(),
		EndTime:           t.now(),
		TerminationReason: reason,
		ProgressSnapshot:  t.Snapshot(),
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats the current snapshot for periodic log lines
func (t *Tracker) LogProgress() string {
	s := t.Snapshot()
	return fmt.Sprintf("Pages: %d fetched, %d failed, %d skipped | Queue: %d pending, %d in-flight | Depth: %d | Elapsed: %v",
		s.FetchedCount,
		s.FailedCount,
		s.SkippedCount,
		s.PendingCount,
		s.FetchingCount,
		s.CurrentDepth,
		time.Duration(s.ElapsedMs)*time.Millisecond,
	)
}
