package crawler

import (
	"net/url"
	"path"
	"strings"

	"github.com/alvmarrod/menu-weaver/internal/config"
)

// skippedExtensions are static assets never worth a page fetch
var skippedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	".css": true, ".js": true, ".mjs": true, ".map": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".zip": true, ".gz": true, ".tar": true, ".rar": true, ".7z": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".webm": true,
}

// OriginFilter decides whether a normalized URL belongs to the crawl
type OriginFilter struct {
	policy     config.OriginPolicy
	seedHost   string
	seedDomain string
	pathPrefix string
	allowList  []string
}

// pageExtensions mark a seed path segment as a document rather than a directory
var pageExtensions = map[string]bool{
	".html":  true,
	".htm":   true,
	".xhtml": true,
	".php":   true,
	".asp":   true,
	".aspx":  true,
	".jsp":   true,
	".cfm":   true,
}

func isPageFile(p string) bool {
	return pageExtensions[strings.ToLower(path.Ext(p))]
}

// NewOriginFilter builds a filter around a normalized seed URL.
// Allow-list entries are URL prefixes accepted regardless of policy.
func NewOriginFilter(seedURL string, policy config.OriginPolicy, allowList []string) (*OriginFilter, error) {
	canonical, err := Normalize(seedURL, "")
	if err != nil {
		return nil, err
	}
	seed, _ := url.Parse(canonical)

	// Normalization strips trailing slashes, so a seed path is treated as a
	// directory unless it names a page
	prefix := seed.Path
	if isPageFile(prefix) {
		prefix = path.Dir(prefix)
	}
	prefix = strings.TrimSuffix(prefix, "/")

	allowed := make([]string, 0, len(allowList))
	for _, entry := range allowList {
		if normalized, err := Normalize(entry, ""); err == nil {
			allowed = append(allowed, normalized)
		}
	}

	return &OriginFilter{
		policy:     policy,
		seedHost:   bareHost(seed.Hostname()),
		seedDomain: RegistrableDomain(seed.Hostname()),
		pathPrefix: prefix,
		allowList:  allowed,
	}, nil
}

// Allows reports whether a normalized URL may enter the frontier
func (f *OriginFilter) Allows(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}

	if skippedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return false
	}

	for _, prefix := range f.allowList {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}

	host := u.Hostname()
	switch f.policy {
	case config.SameHost:
		return bareHost(host) == f.seedHost
	case config.SameRegistrableDomain:
		return RegistrableDomain(host) == f.seedDomain
	case config.SameHostAndPathPrefix:
		if bareHost(host) != f.seedHost {
			return false
		}
		return f.pathPrefix == "" || u.Path == f.pathPrefix || strings.HasPrefix(u.Path, f.pathPrefix+"/")
	default:
		return false
	}
}

// bareHost strips a leading www. so www.example.com and example.com compare equal
func bareHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
