package crawler

import (
	"fmt"
	"sync"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// Outcome is the result a worker reports for a claimed node
type Outcome int

const (
	// OutcomeFetched marks the page as fetched
	OutcomeFetched Outcome = iota
	// OutcomeFailed is a transient failure, retried while attempts remain
	OutcomeFailed
	// OutcomeFailedPermanent is a failure no retry can fix. The node fails at
	// once and FetchAttempts keeps the number of requests actually made, so a
	// 404 reads 1 attempt where an exhausted retryable failure reads retryLimit+1.
	OutcomeFailedPermanent
)

// Frontier owns every PageNode of one crawl job.
// Pending nodes are served breadth-first: lowest depth first, discovery order within a depth.
type Frontier struct {
	mu sync.Mutex

	maxDepth   int
	maxPages   int
	retryLimit int
	clock      Clock
	observer   func(storage.FrontierCounts)

	nodes  map[string]*storage.PageNode
	order  []string   // discovery order, for Nodes()
	levels [][]string // pending URLs per depth, FIFO

	seeded bool
	closed bool
	counts storage.FrontierCounts
}

// FrontierOption configures a Frontier
type FrontierOption func(*Frontier)

// WithFrontierClock sets the clock used for DiscoveredAt
func WithFrontierClock(clock Clock) FrontierOption {
	return func(f *Frontier) {
		f.clock = clock
	}
}

// WithObserver registers a callback invoked, under the frontier lock, after
// every state transition. It must not call back into the frontier.
func WithObserver(observer func(storage.FrontierCounts)) FrontierOption {
	return func(f *Frontier) {
		f.observer = observer
	}
}

// NewFrontier creates an empty frontier
func NewFrontier(maxDepth, maxPages, retryLimit int, opts ...FrontierOption) *Frontier {
	f := &Frontier{
		maxDepth:   maxDepth,
		maxPages:   maxPages,
		retryLimit: retryLimit,
		clock:      SystemClock,
		nodes:      make(map[string]*storage.PageNode),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Seed inserts the root node at depth 0 and returns its canonical URL
func (f *Frontier) Seed(rawURL string) (string, error) {
	canonical, err := Normalize(rawURL, "")
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seeded {
		return "", ErrAlreadySeeded
	}
	f.seeded = true
	f.insertLocked(canonical, "", 0)
	f.publishLocked()
	return canonical, nil
}

// Offer admits a discovered link as a Pending child of parentURL.
// Duplicates, bad URLs, depth overflow, an exhausted page budget and a closed
// frontier are expected and reported only through the false return.
func (f *Frontier) Offer(candidate, parentURL string) bool {
	canonical, err := Normalize(candidate, parentURL)
	if err != nil {
		return false
	}
	parentKey, err := Normalize(parentURL, "")
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	parent, ok := f.nodes[parentKey]
	if !ok {
		return false
	}
	if _, exists := f.nodes[canonical]; exists {
		return false
	}
	depth := parent.Depth + 1
	if depth > f.maxDepth {
		return false
	}
	if f.budgetExhaustedLocked() {
		return false
	}

	f.insertLocked(canonical, parent.URL, depth)
	f.publishLocked()
	return true
}

// ClaimNext moves the next Pending node to Fetching and returns a copy of it.
// It returns false when nothing can be claimed right now.
func (f *Frontier) ClaimNext() (storage.PageNode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.counts.Pending == 0 {
		return storage.PageNode{}, false
	}
	if f.counts.Fetched+f.counts.Failed+f.counts.Fetching >= f.maxPages {
		return storage.PageNode{}, false
	}

	for depth := range f.levels {
		queue := f.levels[depth]
		for len(queue) > 0 {
			key := queue[0]
			queue = queue[1:]
			node := f.nodes[key]
			if node.State != storage.StatePending {
				continue
			}
			f.levels[depth] = queue

			node.State = storage.StateFetching
			node.FetchAttempts++
			f.counts.Pending--
			f.counts.Fetching++
			if depth > f.counts.CurrentDepth {
				f.counts.CurrentDepth = depth
			}
			f.publishLocked()
			return *node, true
		}
		f.levels[depth] = queue
	}

	return storage.PageNode{}, false
}

// Complete records the outcome of a fetch for a node previously claimed
func (f *Frontier) Complete(url string, outcome Outcome, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, err := f.fetchingLocked(url)
	if err != nil {
		return err
	}
	f.counts.Fetching--
	if cause != nil {
		node.LastError = cause.Error()
	}

	switch outcome {
	case OutcomeFetched:
		node.State = storage.StateFetched
		node.LastError = ""
		f.counts.Fetched++
	case OutcomeFailed:
		if !f.closed && node.FetchAttempts <= f.retryLimit {
			node.State = storage.StatePending
			f.counts.Pending++
			f.levels[node.Depth] = append(f.levels[node.Depth], node.URL)
			break
		}
		node.State = storage.StateFailed
		f.counts.Failed++
	case OutcomeFailedPermanent:
		node.State = storage.StateFailed
		f.counts.Failed++
	default:
		return fmt.Errorf("unknown outcome %d", outcome)
	}

	if f.counts.Fetched+f.counts.Failed >= f.maxPages {
		f.skipPendingLocked("page budget exhausted")
	}
	f.publishLocked()
	return nil
}

// Skip moves a claimed node to Skipped without a request having been made
func (f *Frontier) Skip(url, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	node, err := f.fetchingLocked(url)
	if err != nil {
		return err
	}
	node.State = storage.StateSkipped
	node.LastError = reason
	f.counts.Fetching--
	f.counts.Skipped++
	f.publishLocked()
	return nil
}

// Close stops the frontier from accepting offers and skips every Pending node.
// Nodes being fetched may still complete.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.skipPendingLocked("crawl cancelled")
	f.publishLocked()
}

// IsDrained reports whether no node is Pending or Fetching
func (f *Frontier) IsDrained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts.Pending == 0 && f.counts.Fetching == 0
}

// isClosed reports whether Close was called
func (f *Frontier) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// BudgetExhausted reports whether maxPages nodes reached Fetched or Failed
func (f *Frontier) BudgetExhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.budgetExhaustedLocked()
}

// Counts returns the current tally of node states
func (f *Frontier) Counts() storage.FrontierCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts
}

// Node returns a copy of the node for a URL
func (f *Frontier) Node(rawURL string) (storage.PageNode, bool) {
	key, err := Normalize(rawURL, "")
	if err != nil {
		return storage.PageNode{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	node, ok := f.nodes[key]
	if !ok {
		return storage.PageNode{}, false
	}
	return *node, true
}

// Nodes returns copies of all nodes in discovery order
func (f *Frontier) Nodes() []storage.PageNode {
	f.mu.Lock()
	defer f.mu.Unlock()

	nodes := make([]storage.PageNode, 0, len(f.order))
	for _, key := range f.order {
		nodes = append(nodes, *f.nodes[key])
	}
	return nodes
}

func (f *Frontier) insertLocked(canonical, parent string, depth int) {
	f.nodes[canonical] = &storage.PageNode{
		URL:          canonical,
		Depth:        depth,
		ParentURL:    parent,
		State:        storage.StatePending,
		DiscoveredAt: f.clock.Now(),
	}
	f.order = append(f.order, canonical)
	for len(f.levels) <= depth {
		f.levels = append(f.levels, nil)
	}
	f.levels[depth] = append(f.levels[depth], canonical)
	f.counts.Discovered++
	f.counts.Pending++
}

func (f *Frontier) fetchingLocked(rawURL string) (*storage.PageNode, error) {
	key, err := Normalize(rawURL, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownURL, rawURL)
	}
	node, ok := f.nodes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownURL, rawURL)
	}
	if node.State != storage.StateFetching {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFetching, key, node.State)
	}
	return node, nil
}

func (f *Frontier) skipPendingLocked(reason string) {
	for depth, queue := range f.levels {
		for _, key := range queue {
			node := f.nodes[key]
			if node.State != storage.StatePending {
				continue
			}
			node.State = storage.StateSkipped
			node.LastError = reason
			f.counts.Pending--
			f.counts.Skipped++
		}
		f.levels[depth] = nil
	}
}

func (f *Frontier) budgetExhaustedLocked() bool {
	return f.counts.Fetched+f.counts.Failed >= f.maxPages
}

func (f *Frontier) publishLocked() {
	if f.observer != nil {
		f.observer(f.counts)
	}
}
