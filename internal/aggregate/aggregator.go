// Package aggregate merges per-page records into one result per site.
//
// Every field keeps the list of pages that contributed its current value
// (provenance) and every competing value that did not win (conflicts), so no
// extracted information is dropped silently.
package aggregate

import (
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

// ErrCrawlIncomplete is returned by Finalize while the crawl still has pending or in-flight pages
var ErrCrawlIncomplete = errors.New("crawl incomplete: frontier not drained")

// confidenceEpsilon treats confidences closer than this as equal
const confidenceEpsilon = 1e-9

// DrainChecker reports whether the crawl feeding the aggregator is finished
type DrainChecker interface {
	IsDrained() bool
}

// Aggregator accumulates PageRecords for one site
type Aggregator struct {
	mu     sync.Mutex
	site   string
	drain  DrainChecker
	now    func() time.Time
	fields map[string]*storage.AggregateField
	pages  []string
	seen   map[string]bool
	final  *storage.AggregateResult
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithNow sets the time source stamped on the finalized result
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an aggregator for site; Finalize consults drain
func New(site string, drain DrainChecker, opts ...Option) *Aggregator {
	a := &Aggregator{
		site:   site,
		drain:  drain,
		now:    time.Now,
		fields: make(map[string]*storage.AggregateField),
		seen:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Merge folds one page record into the aggregate.
//
// A new field takes the record's value. An equal value adds the page to the
// field's provenance. A different value with higher confidence replaces the
// current one and every displaced page becomes a conflict; otherwise the
// incoming page is recorded as a conflict and the current value stays.
func (a *Aggregator) Merge(rec storage.PageRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.seen[rec.SourceURL] {
		a.seen[rec.SourceURL] = true
		a.pages = append(a.pages, rec.SourceURL)
	}

	for name, incoming := range rec.Fields {
		value := strings.TrimSpace(incoming.Value)
		if value == "" {
			continue
		}

		current, ok := a.fields[name]
		if !ok {
			a.fields[name] = &storage.AggregateField{
				Name:       name,
				Value:      value,
				Confidence: incoming.Confidence,
				Provenance: []string{rec.SourceURL},
			}
			continue
		}

		if sameValue(current.Value, value) {
			current.Provenance = appendUnique(current.Provenance, rec.SourceURL)
			current.Confidence = math.Max(current.Confidence, incoming.Confidence)
			continue
		}

		if incoming.Confidence > current.Confidence+confidenceEpsilon {
			for _, url := range current.Provenance {
				current.Conflicts = append(current.Conflicts, storage.ConflictingValue{
					SourceURL:  url,
					Value:      current.Value,
					Confidence: current.Confidence,
				})
			}
			current.Value = value
			current.Confidence = incoming.Confidence
			current.Provenance = []string{rec.SourceURL}
			continue
		}

		current.Conflicts = append(current.Conflicts, storage.ConflictingValue{
			SourceURL:  rec.SourceURL,
			Value:      value,
			Confidence: incoming.Confidence,
		})
	}
}

// Finalize returns the merged result. It fails with ErrCrawlIncomplete until
// the frontier is drained; once it succeeds every later call returns the same result.
func (a *Aggregator) Finalize() (storage.AggregateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return cloneResult(*a.final), nil
	}
	if a.drain != nil && !a.drain.IsDrained() {
		return storage.AggregateResult{}, ErrCrawlIncomplete
	}

	result := storage.AggregateResult{
		Site:        a.site,
		Fields:      make(map[string]storage.AggregateField, len(a.fields)),
		Pages:       append([]string{}, a.pages...),
		FinalizedAt: a.now(),
	}
	for name, field := range a.fields {
		result.Fields[name] = cloneField(*field)
	}
	a.final = &result

	return cloneResult(result), nil
}

// sameValue compares values ignoring case and runs of whitespace
func sameValue(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func cloneField(f storage.AggregateField) storage.AggregateField {
	f.Provenance = append([]string{}, f.Provenance...)
	if f.Conflicts != nil {
		f.Conflicts = append([]storage.ConflictingValue{}, f.Conflicts...)
	}
	return f
}

func cloneResult(r storage.AggregateResult) storage.AggregateResult {
	fields := make(map[string]storage.AggregateField, len(r.Fields))
	for name, f := range r.Fields {
		fields[name] = cloneField(f)
	}
	r.Fields = fields
	r.Pages = append([]string{}, r.Pages...)
	return r
}
