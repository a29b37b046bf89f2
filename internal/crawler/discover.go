package crawler

import (
	"bytes"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// LinkDiscoverer turns page content into candidate URLs inside the crawl's origin policy
type LinkDiscoverer struct {
	filter *OriginFilter
}

// NewLinkDiscoverer creates a discoverer applying filter to every candidate
func NewLinkDiscoverer(filter *OriginFilter) *LinkDiscoverer {
	return &LinkDiscoverer{filter: filter}
}

// Discover yields the normalized, policy-approved links of a page, each once.
// Parsing happens on first iteration; the sequence is meant to be consumed once.
// Malformed links and non-http schemes are dropped silently.
func (d *LinkDiscoverer) Discover(content []byte, baseURL string) iter.Seq[string] {
	return func(yield func(string) bool) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
		if err != nil {
			logrus.Debugf("Link discovery skipped for %s: %v", baseURL, err)
			return
		}

		// <base href> changes how relative links resolve
		base := baseURL
		if href, found := doc.Find("base[href]").First().Attr("href"); found {
			if u, err := url.Parse(baseURL); err == nil {
				if resolved, err := u.Parse(strings.TrimSpace(href)); err == nil {
					base = resolved.String()
				}
			}
		}

		seen := make(map[string]bool)
		doc.Find("a[href], area[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			href = strings.TrimSpace(href)
			if href == "" || strings.HasPrefix(href, "#") {
				return true
			}

			canonical, err := Normalize(href, base)
			if err != nil {
				return true
			}
			if seen[canonical] || !d.filter.Allows(canonical) {
				return true
			}
			seen[canonical] = true
			return yield(canonical)
		})
	}
}

// Forward offers every discovered link to the frontier as a child of pageURL
// and returns how many were admitted
func (d *LinkDiscoverer) Forward(frontier *Frontier, content []byte, baseURL, pageURL string) int {
	admitted := 0
	for link := range d.Discover(content, baseURL) {
		if frontier.Offer(link, pageURL) {
			admitted++
		}
	}
	return admitted
}
