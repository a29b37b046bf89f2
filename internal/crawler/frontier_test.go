package crawler

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/menu-weaver/internal/storage"
)

const testSeed = "https://example.com/"

func seededFrontier(t *testing.T, maxDepth, maxPages, retryLimit int) *Frontier {
	t.Helper()
	f := NewFrontier(maxDepth, maxPages, retryLimit)
	seed, err := f.Seed(testSeed)
	require.NoError(t, err)
	require.Equal(t, testSeed, seed)
	return f
}

func claim(t *testing.T, f *Frontier) storage.PageNode {
	t.Helper()
	node, ok := f.ClaimNext()
	require.True(t, ok, "expected a claimable node")
	return node
}

func TestFrontierSeed(t *testing.T) {
	t.Parallel()

	t.Run("seed is pending at depth 0", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 2, 10, 0)

		node, ok := f.Node(testSeed)
		require.True(t, ok)
		assert.Equal(t, 0, node.Depth)
		assert.Equal(t, storage.StatePending, node.State)
		assert.Empty(t, node.ParentURL)
		assert.Equal(t, storage.FrontierCounts{Discovered: 1, Pending: 1}, f.Counts())
	})

	t.Run("second seed fails", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 2, 10, 0)

		_, err := f.Seed("https://other.example.com/")
		assert.ErrorIs(t, err, ErrAlreadySeeded)
	})

	t.Run("unusable seed", func(t *testing.T) {
		t.Parallel()
		f := NewFrontier(2, 10, 0)

		_, err := f.Seed("mailto:owner@example.com")
		var nerr *NormalizationError
		assert.True(t, errors.As(err, &nerr))
	})
}

func TestFrontierOffer(t *testing.T) {
	t.Parallel()

	t.Run("deduplicates equivalent forms", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 2, 10, 0)

		assert.True(t, f.Offer("/menu", testSeed))
		assert.False(t, f.Offer("https://EXAMPLE.com/menu/", testSeed))
		assert.False(t, f.Offer("/menu#dinner", testSeed))
		assert.False(t, f.Offer(testSeed, testSeed))
		assert.Equal(t, 2, f.Counts().Discovered)
	})

	t.Run("child depth is parent depth plus one", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 3, 10, 0)

		require.True(t, f.Offer("/a", testSeed))
		require.True(t, f.Offer("/a/b", "https://example.com/a"))

		node, ok := f.Node("https://example.com/a/b")
		require.True(t, ok)
		assert.Equal(t, 2, node.Depth)
		assert.Equal(t, "https://example.com/a", node.ParentURL)
	})

	t.Run("refuses beyond max depth", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 1, 10, 0)

		require.True(t, f.Offer("/a", testSeed))
		assert.False(t, f.Offer("/a/b", "https://example.com/a"))
	})

	t.Run("max depth zero admits only the seed", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 0, 10, 0)

		assert.False(t, f.Offer("/a", testSeed))
		assert.Equal(t, 1, f.Counts().Discovered)
	})

	t.Run("refuses unknown parent and bad urls", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 2, 10, 0)

		assert.False(t, f.Offer("/a", "https://example.com/nowhere"))
		assert.False(t, f.Offer("javascript:alert(1)", testSeed))
		assert.False(t, f.Offer("", testSeed))
	})

	t.Run("refuses after close", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 2, 10, 0)
		f.Close()

		assert.False(t, f.Offer("/a", testSeed))
	})
}

func TestFrontierClaimOrder(t *testing.T) {
	t.Parallel()

	f := seededFrontier(t, 2, 100, 0)
	seed := claim(t, f)
	assert.Equal(t, testSeed, seed.URL)
	assert.Equal(t, 1, seed.FetchAttempts)
	assert.Equal(t, storage.StateFetching, seed.State)

	for _, p := range []string{"/a", "/b", "/c"} {
		require.True(t, f.Offer(p, testSeed))
	}
	require.NoError(t, f.Complete(testSeed, OutcomeFetched, nil))

	a := claim(t, f)
	require.True(t, f.Offer("/a/deep", a.URL))
	require.NoError(t, f.Complete(a.URL, OutcomeFetched, nil))

	// Depth 1 is exhausted before depth 2 is served
	var order []string
	for {
		node, ok := f.ClaimNext()
		if !ok {
			break
		}
		order = append(order, node.URL)
		require.NoError(t, f.Complete(node.URL, OutcomeFetched, nil))
	}
	assert.Equal(t, []string{
		"https://example.com/b",
		"https://example.com/c",
		"https://example.com/a/deep",
	}, order)
	assert.True(t, f.IsDrained())
	assert.Equal(t, 2, f.Counts().CurrentDepth)
}

func TestFrontierComplete(t *testing.T) {
	t.Parallel()

	t.Run("retries transient failures until the limit", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 0, 10, 2)
		cause := &FetchError{URL: testSeed, Retryable: true, Err: errors.New("timeout")}

		for attempt := 1; attempt <= 3; attempt++ {
			node := claim(t, f)
			assert.Equal(t, attempt, node.FetchAttempts)
			require.NoError(t, f.Complete(node.URL, OutcomeFailed, cause))
		}

		_, ok := f.ClaimNext()
		assert.False(t, ok)

		node, _ := f.Node(testSeed)
		assert.Equal(t, storage.StateFailed, node.State)
		assert.Equal(t, 3, node.FetchAttempts)
		assert.Contains(t, node.LastError, "timeout")

		counts := f.Counts()
		assert.Equal(t, 1, counts.Failed)
		assert.Equal(t, 0, counts.Fetched)
		assert.True(t, f.IsDrained())
	})

	t.Run("permanent failures are not retried", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 0, 10, 5)

		node := claim(t, f)
		require.NoError(t, f.Complete(node.URL, OutcomeFailedPermanent, &FetchError{URL: node.URL, StatusCode: 404}))

		got, _ := f.Node(testSeed)
		assert.Equal(t, storage.StateFailed, got.State)
		assert.Equal(t, 1, got.FetchAttempts)
		assert.True(t, f.IsDrained())
	})

	t.Run("success clears the last error", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 0, 10, 1)

		node := claim(t, f)
		require.NoError(t, f.Complete(node.URL, OutcomeFailed, errors.New("reset")))
		node = claim(t, f)
		require.NoError(t, f.Complete(node.URL, OutcomeFetched, nil))

		got, _ := f.Node(testSeed)
		assert.Equal(t, storage.StateFetched, got.State)
		assert.Empty(t, got.LastError)
		assert.Equal(t, 2, got.FetchAttempts)
	})

	t.Run("completing an unclaimed node is a contract violation", func(t *testing.T) {
		t.Parallel()
		f := seededFrontier(t, 0, 10, 0)

		assert.ErrorIs(t, f.Complete(testSeed, OutcomeFetched, nil), ErrNotFetching)
		assert.ErrorIs(t, f.Complete("https://example.com/ghost", OutcomeFetched, nil), ErrUnknownURL)
		assert.ErrorIs(t, f.Skip(testSeed, "nope"), ErrNotFetching)

		node := claim(t, f)
		require.NoError(t, f.Complete(node.URL, OutcomeFetched, nil))
		assert.ErrorIs(t, f.Complete(node.URL, OutcomeFetched, nil), ErrNotFetching)
	})
}

func TestFrontierPageBudget(t *testing.T) {
	t.Parallel()

	f := seededFrontier(t, 1, 5, 0)
	seed := claim(t, f)
	for i := range 20 {
		f.Offer(fmt.Sprintf("/page-%d", i), testSeed)
	}
	require.NoError(t, f.Complete(seed.URL, OutcomeFetched, nil))

	// Four claims fit next to the fetched seed; the fifth would exceed the budget
	var claimed []storage.PageNode
	for range 4 {
		claimed = append(claimed, claim(t, f))
	}
	_, ok := f.ClaimNext()
	assert.False(t, ok)

	for i, node := range claimed {
		outcome := OutcomeFetched
		if i == 0 {
			outcome = OutcomeFailedPermanent
		}
		require.NoError(t, f.Complete(node.URL, outcome, nil))
	}

	counts := f.Counts()
	assert.Equal(t, 5, counts.Fetched+counts.Failed)
	assert.Equal(t, 0, counts.Pending)
	assert.Equal(t, 16, counts.Skipped)
	assert.True(t, f.BudgetExhausted())
	assert.True(t, f.IsDrained())
	assert.False(t, f.Offer("/late", testSeed))
}

func TestFrontierClose(t *testing.T) {
	t.Parallel()

	f := seededFrontier(t, 1, 50, 3)
	seed := claim(t, f)
	for i := range 5 {
		f.Offer(fmt.Sprintf("/p%d", i), testSeed)
	}
	require.NoError(t, f.Complete(seed.URL, OutcomeFetched, nil))

	inFlight := claim(t, f)
	f.Close()
	f.Close()

	assert.True(t, f.isClosed())
	assert.False(t, f.IsDrained(), "in-flight node still fetching")
	_, ok := f.ClaimNext()
	assert.False(t, ok)

	// A transient failure after close is terminal
	require.NoError(t, f.Complete(inFlight.URL, OutcomeFailed, errors.New("timeout")))
	assert.True(t, f.IsDrained())

	counts := f.Counts()
	assert.Equal(t, 1, counts.Fetched)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 4, counts.Skipped)
	for _, node := range f.Nodes() {
		assert.NotEqual(t, storage.StatePending, node.State, node.URL)
	}
}

func TestFrontierSkip(t *testing.T) {
	t.Parallel()

	f := seededFrontier(t, 0, 10, 0)
	node := claim(t, f)
	require.NoError(t, f.Skip(node.URL, "disallowed by robots.txt"))

	got, _ := f.Node(testSeed)
	assert.Equal(t, storage.StateSkipped, got.State)
	assert.Equal(t, "disallowed by robots.txt", got.LastError)
	assert.True(t, f.IsDrained())
	assert.Equal(t, 1, f.Counts().Skipped)
}

func TestFrontierConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()

	f := seededFrontier(t, 1, 1000, 0)
	seed := claim(t, f)
	for i := range 200 {
		require.True(t, f.Offer(fmt.Sprintf("/item/%d", i), testSeed))
	}
	require.NoError(t, f.Complete(seed.URL, OutcomeFetched, nil))

	var (
		mu      sync.Mutex
		claims  = make(map[string]int)
		wg      sync.WaitGroup
		workers = 8
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				node, ok := f.ClaimNext()
				if !ok {
					return
				}
				mu.Lock()
				claims[node.URL]++
				mu.Unlock()
				assert.NoError(t, f.Complete(node.URL, OutcomeFetched, nil))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claims, 200)
	for url, n := range claims {
		assert.Equal(t, 1, n, url)
	}
	assert.True(t, f.IsDrained())
	assert.Equal(t, 201, f.Counts().Fetched)
}

func TestFrontierObserver(t *testing.T) {
	t.Parallel()

	var last storage.FrontierCounts
	calls := 0
	f := NewFrontier(1, 10, 0, WithObserver(func(c storage.FrontierCounts) {
		last = c
		calls++
	}))

	_, err := f.Seed(testSeed)
	require.NoError(t, err)
	node := claim(t, f)
	f.Offer("/a", testSeed)
	require.NoError(t, f.Complete(node.URL, OutcomeFetched, nil))

	assert.Equal(t, 4, calls)
	assert.Equal(t, f.Counts(), last)
	assert.Equal(t, storage.FrontierCounts{Discovered: 2, Pending: 1, Fetched: 1}, last)
}
