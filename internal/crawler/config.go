package crawler

import (
	"time"
)

// DefaultMediaExtensions are matched literally and case-sensitively against the URL path.
var DefaultMediaExtensions = []string{".jpeg", ".jpg", ".gif", ".png", ".flv", ".mp3", ".mp4"}

// DefaultIgnoredPrefixes are links that are never fetched or reported.
var DefaultIgnoredPrefixes = []string{
	"https://t.me/",
	"https://telegram.me/",
	"http://vk.com/share.php",
	"whatsapp://",
	"mailto:",
	"tel:",
	"javascript:",
}

// Config holds the configuration for a crawler instance
type Config struct {
	DefaultTimeout   time.Duration // Timeout for a single page fetch or status probe
	PageConcurrency  int           // Pages fetched concurrently during discovery
	CheckConcurrency int           // Links probed concurrently per page
	MaxPages         int           // Discovery cap, 0 means unbounded
	RateLimit        int           // Requests per second per host, 0 disables pacing
	UserAgent        string        // User agent string for requests
	RetryAttempts    int           // Extra probe attempts after a transport failure
	RetryDelay       time.Duration // Delay between probe attempts
	MediaExtensions  []string      // Path suffixes treated as media
	IgnoredPrefixes  []string      // Link prefixes that are skipped entirely
	IgnoredPatterns  []string      // Glob patterns that are skipped entirely
	SkipSSRFCheck    bool          // Skip SSRF protection (for tests only, never enable in production)
}

// DefaultConfig returns a Config instance with default values.
// Concurrency of one reproduces a strictly sequential crawl.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout:   30 * time.Second,
		PageConcurrency:  1,
		CheckConcurrency: 1,
		MaxPages:         0,
		RateLimit:        0,
		UserAgent:        "BrokenLinkBee/1.0 (+https://github.com/Harvey-AU/broken-link-bee)",
		RetryAttempts:    0,
		RetryDelay:       500 * time.Millisecond,
		MediaExtensions:  append([]string(nil), DefaultMediaExtensions...),
		IgnoredPrefixes:  append([]string(nil), DefaultIgnoredPrefixes...),
	}
}
