package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAlreadySeeded is returned when a frontier is seeded twice
	ErrAlreadySeeded = errors.New("frontier already seeded")

	// ErrNotFetching is returned when completing or skipping a node that was never claimed
	ErrNotFetching = errors.New("node is not being fetched")

	// ErrUnknownURL is returned for a URL the frontier never admitted
	ErrUnknownURL = errors.New("url not present in frontier")
)

// NormalizationError reports a URL that cannot be used as a crawl key
type NormalizationError struct {
	URL    string
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %q: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("normalize %q: %s", e.URL, e.Reason)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// FetchError reports a failed request. Retryable is false for errors a retry
// cannot fix (404, disallowed content type).
type FetchError struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports a fetched page the extractor could not turn into a record
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsRetryable reports whether a fetch failure may succeed on another attempt.
// Errors that are not a *FetchError are treated as transient network errors.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return true
}
