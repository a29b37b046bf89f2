package crawler

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsPolicy answers robots.txt questions, fetching each origin's file once.
// robots.txt requests go through the same rate limiter as page requests.
type RobotsPolicy struct {
	fetcher   Fetcher
	limiter   *RateLimiter
	userAgent string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsPolicy creates a policy for userAgent
func NewRobotsPolicy(fetcher Fetcher, limiter *RateLimiter, userAgent string) *RobotsPolicy {
	return &RobotsPolicy{
		fetcher:   fetcher,
		limiter:   limiter,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether rawURL may be fetched. Errors reaching robots.txt
// allow the fetch, except a cancelled context which is returned.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, nil
	}
	data, err := p.dataFor(ctx, OriginOf(rawURL))
	if err != nil {
		return false, err
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, p.userAgent), nil
}

func (p *RobotsPolicy) dataFor(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	p.mu.RLock()
	data, ok := p.cache[origin]
	p.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := p.group.Do(origin, func() (any, error) {
		return p.load(ctx, origin)
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}

func (p *RobotsPolicy) load(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	p.mu.RLock()
	data, ok := p.cache[origin]
	p.mu.RUnlock()
	if ok {
		return data, nil
	}

	if err := p.limiter.Acquire(ctx, origin); err != nil {
		return nil, err
	}

	status, body := 200, []byte(nil)
	resp, err := p.fetcher.Fetch(ctx, origin+"/robots.txt")
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.StatusCode != 0 {
			status = fe.StatusCode
		} else {
			logrus.Warnf("robots.txt unavailable for %s, allowing all: %v", origin, err)
			status = 404
		}
	} else {
		status, body = resp.StatusCode, resp.Body
	}

	data, err = robotstxt.FromStatusAndBytes(status, body)
	if err != nil {
		logrus.Warnf("robots.txt for %s unparsable, allowing all: %v", origin, err)
		data, _ = robotstxt.FromStatusAndBytes(404, nil)
	}

	p.mu.Lock()
	p.cache[origin] = data
	p.mu.Unlock()

	logrus.Debugf("Loaded robots.txt for %s (status=%d)", origin, status)
	return data, nil
}
