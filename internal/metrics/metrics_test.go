package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// fakeNow is a manually advanced clock
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	clock := newFakeNow()
	tracker := NewTrackerWithClock(clock.Now)

	empty := tracker.Snapshot()
	assert.Equal(t, storage.ProgressSnapshot{}, empty)

	tracker.Publish(storage.FrontierCounts{Discovered: 7, Pending: 3, Fetching: 1, Fetched: 2, Failed: 1, CurrentDepth: 1})
	tracker.RecordFetchTime(100 * time.Millisecond)
	tracker.RecordFetchTime(300 * time.Millisecond)
	tracker.IncrementExtractionErrors()
	clock.Advance(1500 * time.Millisecond)

	assert.Equal(t, storage.ProgressSnapshot{
		FetchedCount:     2,
		FailedCount:      1,
		PendingCount:     3,
		FetchingCount:    1,
		DiscoveredCount:  7,
		CurrentDepth:     1,
		ElapsedMs:        1500,
		ExtractionErrors: 1,
		AvgFetchTimeMs:   200,
	}, tracker.Snapshot())
}

func TestStartAndFinish(t *testing.T) {
	t.Parallel()

	clock := newFakeNow()
	tracker := NewTrackerWithClock(clock.Now)

	clock.Advance(time.Hour)
	tracker.Start()
	clock.Advance(2 * time.Second)
	tracker.Finish()
	clock.Advance(time.Minute)
	tracker.Finish()

	assert.Equal(t, int64(2000), tracker.Snapshot().ElapsedMs, "elapsed frozen at the first Finish")
}

func TestPublishedCountsAreImmutable(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	counts := storage.FrontierCounts{Fetched: 1}
	tracker.Publish(counts)
	counts.Fetched = 99

	assert.Equal(t, 1, tracker.Snapshot().FetchedCount)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	var wg sync.WaitGroup

	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 500 {
				tracker.Publish(storage.FrontierCounts{Discovered: n + i, Fetched: n, Pending: i})
				tracker.RecordFetchTime(time.Millisecond)
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				s := tracker.Snapshot()
				// Every snapshot is one published tally, never a mix of two
				assert.Equal(t, s.DiscoveredCount, s.FetchedCount+s.PendingCount)
			}
		}()
	}
	wg.Wait()
}

func TestWriteToFile(t *testing.T) {
	t.Parallel()

	clock := newFakeNow()
	tracker := NewTrackerWithClock(clock.Now)
	tracker.Publish(storage.FrontierCounts{Discovered: 5, Fetched: 4, Failed: 1})
	clock.Advance(3 * time.Second)
	tracker.Finish()

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tracker.WriteToFile(path, "drained"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "drained", got["termination_reason"])
	assert.Equal(t, float64(4), got["fetched_count"])
	assert.Equal(t, float64(1), got["failed_count"])
	assert.Equal(t, float64(3000), got["elapsed_ms"])
	assert.Equal(t, "2026-03-01T12:00:00Z", got["start_time"])
}

func TestWriteToFileBadPath(t *testing.T) {
	t.Parallel()

	err := NewTracker().WriteToFile(filepath.Join(t.TempDir(), "missing", "dir", "m.json"), "drained")
	assert.Error(t, err)
}

func TestLogProgress(t *testing.T) {
	t.Parallel()

	clock := newFakeNow()
	tracker := NewTrackerWithClock(clock.Now)
	tracker.Publish(storage.FrontierCounts{Fetched: 3, Failed: 1, Skipped: 2, Pending: 4, Fetching: 2, CurrentDepth: 1})
	clock.Advance(90 * time.Second)

	assert.Equal(t,
		"Pages: 3 fetched, 1 failed, 2 skipped | Queue: 4 pending, 2 in-flight | Depth: 1 | Elapsed: 1m30s",
		tracker.LogProgress())
}
