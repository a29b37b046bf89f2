package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OriginPolicy decides which discovered links stay inside the crawl
type OriginPolicy int

const (
	// SameHost keeps links on the seed's hostname (www. prefix ignored)
	SameHost OriginPolicy = iota
	// SameRegistrableDomain keeps links sharing the seed's eTLD+1
	SameRegistrableDomain
	// SameHostAndPathPrefix keeps links on the seed host under the seed's directory
	SameHostAndPathPrefix
)

var policyNames = map[OriginPolicy]string{
	SameHost:              "same_host",
	SameRegistrableDomain: "same_registrable_domain",
	SameHostAndPathPrefix: "same_host_and_path_prefix",
}

func (p OriginPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("origin_policy(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler
func (p OriginPolicy) MarshalText() ([]byte, error) {
	name, ok := policyNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown origin policy %d", int(p))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *OriginPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseOriginPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseOriginPolicy accepts the snake_case name, case and dash insensitive
func ParseOriginPolicy(text string) (OriginPolicy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(text)), "-", "_")
	for policy, name := range policyNames {
		if name == normalized {
			return policy, nil
		}
	}
	return SameHost, fmt.Errorf("unknown origin policy %q", text)
}

// Config holds all runtime configuration parameters
type Config struct {
	SeedURL           string       `json:"seed_url" yaml:"seed_url"`
	MaxDepth          int          `json:"max_depth" yaml:"max_depth"`
	MaxPages          int          `json:"max_pages" yaml:"max_pages"`
	RequestDelayMs    int          `json:"request_delay_ms" yaml:"request_delay_ms"`
	ConcurrentWorkers int          `json:"concurrent_workers" yaml:"concurrent_workers"`
	RetryLimit        int          `json:"retry_limit" yaml:"retry_limit"`
	RequestTimeoutMs  int          `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	CrawlTimeoutMs    int          `json:"crawl_timeout_ms" yaml:"crawl_timeout_ms"`
	OriginPolicy      OriginPolicy `json:"origin_policy" yaml:"origin_policy"`
	AllowList         []string     `json:"allow_list" yaml:"allow_list"`
	UserAgent         string       `json:"user_agent" yaml:"user_agent"`
	MaxBodyBytes      int          `json:"max_body_bytes" yaml:"max_body_bytes"`
	RespectRobotsTxt  bool         `json:"respect_robots_txt" yaml:"respect_robots_txt"`
	DBPath            string       `json:"db_path" yaml:"db_path"`
	MetricsPath       string       `json:"metrics_path" yaml:"metrics_path"`
	LogLevel          string       `json:"log_level" yaml:"log_level"`
}

// DefaultUserAgent identifies the crawler to the sites it visits
const DefaultUserAgent = "MenuWeaver/1.0 (+https://github.com/alvmarrod/menu-weaver)"

// DefaultConfig returns a Config with every optional field set.
// Files are decoded on top of it so an explicit zero (max_depth: 0) is kept.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:          2,
		MaxPages:          50,
		RequestDelayMs:    1000,
		ConcurrentWorkers: 3,
		RetryLimit:        2,
		RequestTimeoutMs:  10000,
		OriginPolicy:      SameRegistrableDomain,
		UserAgent:         DefaultUserAgent,
		MaxBodyBytes:      5 * 1024 * 1024,
		DBPath:            "crawler.db",
		MetricsPath:       "metrics.log",
		LogLevel:          "info",
	}
}

// ReadConfig decodes a JSON or YAML file over DefaultConfig without validating,
// so callers can apply overrides first
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that required fields are present and values are sensible
func (c *Config) Validate() error {
	if c.SeedURL == "" {
		return fmt.Errorf("seed_url is required")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be >= 0")
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages must be >= 1")
	}
	if c.RequestDelayMs < 0 {
		return fmt.Errorf("request_delay_ms must be >= 0")
	}
	if c.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must be >= 0")
	}
	if c.RequestTimeoutMs < 1 {
		return fmt.Errorf("request_timeout_ms must be >= 1")
	}
	if c.CrawlTimeoutMs < 0 {
		return fmt.Errorf("crawl_timeout_ms must be >= 0")
	}
	if _, ok := policyNames[c.OriginPolicy]; !ok {
		return fmt.Errorf("origin_policy %d is not supported", int(c.OriginPolicy))
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be >= 0")
	}
	return nil
}

// RequestDelay is the minimum spacing between two requests to one origin
func (c *Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelayMs) * time.Millisecond
}

// RequestTimeout bounds a single fetch
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// CrawlTimeout bounds the whole crawl; zero means no bound
func (c *Config) CrawlTimeout() time.Duration {
	return time.Duration(c.CrawlTimeoutMs) * time.Millisecond
}
