package storage

import (
	"sort"
	"time"
)

// NodeState is the lifecycle state of a discovered page
type NodeState int

const (
	StatePending NodeState = iota
	StateFetching
	StateFetched
	StateFailed
	StateSkipped
)

func (s NodeState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateFetched:
		return "fetched"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseNodeState is the inverse of NodeState.String
func ParseNodeState(s string) NodeState {
	switch s {
	case "fetching":
		return StateFetching
	case "fetched":
		return StateFetched
	case "failed":
		return StateFailed
	case "skipped":
		return StateSkipped
	default:
		return StatePending
	}
}

// PageNode represents one discovered URL of a crawl
type PageNode struct {
	URL           string    `json:"url"`
	Depth         int       `json:"depth"`
	ParentURL     string    `json:"parent_url,omitempty"`
	State         NodeState `json:"state"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	FetchAttempts int       `json:"fetch_attempts"`
	LastError     string    `json:"last_error,omitempty"`
}

// FieldValue is a single extracted attribute.
// Method names the heuristic that produced it (json-ld, tel-link, ...).
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`
}

// PageRecord is the extraction output for one fetched page
type PageRecord struct {
	SourceURL   string                `json:"source_url"`
	Fields      map[string]FieldValue `json:"fields"`
	ExtractedAt time.Time             `json:"extracted_at"`
}

// ConflictingValue records a value that lost (or never won) the merge for a field
type ConflictingValue struct {
	SourceURL  string  `json:"source_url"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// AggregateField is one merged attribute with its provenance
type AggregateField struct {
	Name       string             `json:"name"`
	Value      string             `json:"value"`
	Confidence float64            `json:"confidence"`
	Provenance []string           `json:"provenance"`
	Conflicts  []ConflictingValue `json:"conflicts,omitempty"`
}

// ConflictingSources returns the URLs of every conflicting value, in merge order
func (f AggregateField) ConflictingSources() []string {
	sources := make([]string, 0, len(f.Conflicts))
	for _, c := range f.Conflicts {
		sources = append(sources, c.SourceURL)
	}
	return sources
}

// AggregateResult is the merged view of all page records of a crawl
type AggregateResult struct {
	Site        string                    `json:"site"`
	Fields      map[string]AggregateField `json:"fields"`
	Pages       []string                  `json:"pages"`
	FinalizedAt time.Time                 `json:"finalized_at"`
}

// FieldNames returns the field names in sorted order
func (r AggregateResult) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether no page contributed any field
func (r AggregateResult) Empty() bool {
	return len(r.Fields) == 0
}

// FrontierCounts is a point-in-time tally of node states
type FrontierCounts struct {
	Discovered   int
	Pending      int
	Fetching     int
	Fetched      int
	Failed       int
	Skipped      int
	CurrentDepth int
}

// ProgressSnapshot is what observers of a running crawl see
type ProgressSnapshot struct {
	FetchedCount     int   `json:"fetched_count"`
	FailedCount      int   `json:"failed_count"`
	PendingCount     int   `json:"pending_count"`
	FetchingCount    int   `json:"fetching_count"`
	SkippedCount     int   `json:"skipped_count"`
	DiscoveredCount  int   `json:"discovered_count"`
	CurrentDepth     int   `json:"current_depth"`
	ElapsedMs        int64 `json:"elapsed_ms"`
	ExtractionErrors int64 `json:"extraction_errors"`
	AvgFetchTimeMs   int64 `json:"avg_fetch_time_ms"`
}

// CrawlRun is the outcome of one crawl job
type CrawlRun struct {
	ID                int64            `json:"id,omitempty"`
	SeedURL           string           `json:"seed_url"`
	Site              string           `json:"site"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	TerminationReason string           `json:"termination_reason"`
	Aggregate         AggregateResult  `json:"aggregate"`
	Progress          ProgressSnapshot `json:"progress"`
	Nodes             []PageNode       `json:"nodes"`
}
