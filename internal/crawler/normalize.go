package crawler

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// trackingParams are dropped from query strings before comparison
var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"msclkid": true,
	"yclid":   true,
	"igshid":  true,
	"mc_cid":  true,
	"mc_eid":  true,
	"_ga":     true,
	"ref":     true,
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize resolves rawURL against baseURL and returns the canonical form used
// as the frontier key. baseURL may be empty for absolute input.
func Normalize(rawURL, baseURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", &NormalizationError{URL: rawURL, Reason: "empty url"}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", &NormalizationError{URL: rawURL, Reason: "unparsable url", Err: err}
	}

	u := ref
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return "", &NormalizationError{URL: baseURL, Reason: "unparsable base url", Err: err}
		}
		u = base.ResolveReference(ref)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &NormalizationError{URL: rawURL, Reason: "scheme " + quoteScheme(u.Scheme) + " not allowed"}
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", &NormalizationError{URL: rawURL, Reason: "missing host"}
	}
	host = strings.TrimSuffix(host, ".")
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		u.Host = host + ":" + port
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u.Opaque = ""

	switch {
	case u.Path == "":
		u.Path = "/"
	case len(u.Path) > 1 && strings.HasSuffix(u.Path, "/"):
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}
	u.RawPath = ""

	u.RawQuery = cleanQuery(u.Query())
	u.ForceQuery = false

	return u.String(), nil
}

// cleanQuery drops tracking parameters and encodes the rest sorted by key
func cleanQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		lower := strings.ToLower(key)
		if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		vals := append([]string(nil), values[key]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func quoteScheme(scheme string) string {
	if scheme == "" {
		return `""`
	}
	return scheme
}

// HostOf returns the lower-cased hostname of a URL, the unit of rate limiting.
// http and https URLs of one host, or two ports on it, share one bucket.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// OriginOf returns scheme://host[:port] of a normalized URL, where robots.txt lives
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// RegistrableDomain returns the eTLD+1 of a host, or the host itself when the
// public suffix list has no answer (IP addresses, localhost)
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
