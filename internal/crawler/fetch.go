package crawler

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/menu-weaver/internal/config"
)

// Response is the content of one fetched URL
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves one URL. Implementations should return a *FetchError so
// workers can tell transient failures from permanent ones.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// FetchFunc adapts a function to the Fetcher interface
type FetchFunc func(ctx context.Context, url string) (*Response, error)

// Fetch calls f(ctx, url)
func (f FetchFunc) Fetch(ctx context.Context, url string) (*Response, error) {
	return f(ctx, url)
}

// allowedContentTypes are the media types the extractor understands
var allowedContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/plain":            true,
}

// maxRedirects bounds the hops one Fetch follows. Every hop is a request made
// under the single rate-limit token the worker acquired for the page.
const maxRedirects = 2

// errRedirectRefused marks a redirect chain the fetcher will not follow
var errRedirectRefused = errors.New("redirect refused")

// CollyFetcher fetches pages with a colly collector.
// Each call runs on its own clone so callbacks never cross between workers;
// clones share the underlying HTTP backend.
type CollyFetcher struct {
	collector *colly.Collector
}

// NewCollyFetcher configures a synchronous collector from cfg
func NewCollyFetcher(cfg *config.Config) *CollyFetcher {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxDepth(0), // Managed by the frontier
	)
	c.SetRequestTimeout(cfg.RequestTimeout())
	c.SetRedirectHandler(checkRedirect)

	return &CollyFetcher{collector: c}
}

// Fetch performs one GET request. ctx deadlines shorter than the collector
// timeout are not enforced mid-request; the collector timeout is the hard bound.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: rawURL, Retryable: true, Err: err}
	}

	c := f.collector.Clone()
	var resp *colly.Response
	c.OnResponse(func(r *colly.Response) {
		resp = r
	})

	start := time.Now()
	err := c.Visit(rawURL)
	if err != nil {
		return nil, classifyCollyError(rawURL, err)
	}
	if resp == nil {
		return nil, &FetchError{URL: rawURL, Retryable: true, Err: errors.New("no response received")}
	}

	logrus.Debugf("Fetched %s (status=%d, bytes=%d, took=%v)", rawURL, resp.StatusCode, len(resp.Body), time.Since(start))

	out := &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Headers.Get("Content-Type"),
		Body:        resp.Body,
	}
	if err := checkResponse(rawURL, out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkRedirect follows at most maxRedirects hops, all on the host:port of the
// requested page
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > maxRedirects {
		return fmt.Errorf("%w: more than %d redirects", errRedirectRefused, maxRedirects)
	}
	if bareHost(req.URL.Host) != bareHost(via[0].URL.Host) {
		return fmt.Errorf("%w: %s leaves %s", errRedirectRefused, req.URL, via[0].URL.Host)
	}
	return nil
}

// checkResponse maps status codes and content types onto FetchErrors
func checkResponse(rawURL string, resp *Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Retryable: true}
	default:
		return &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Retryable: false}
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedContentTypes[strings.ToLower(mediaType)] {
		return &FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Retryable:  false,
			Err:        fmt.Errorf("content type %q not allowed", contentType),
		}
	}
	return nil
}

// classifyCollyError separates collector-level rejections from network errors
func classifyCollyError(rawURL string, err error) error {
	switch {
	case errors.Is(err, colly.ErrMissingURL),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrNoURLFiltersMatch),
		errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrAbortedAfterHeaders),
		errors.Is(err, errRedirectRefused):
		return &FetchError{URL: rawURL, Retryable: false, Err: err}
	default:
		return &FetchError{URL: rawURL, Retryable: true, Err: err}
	}
}
