package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Classifier sorts normalised links into ignored, media, outbound and page links.
type Classifier struct {
	ignoredPrefixes []string
	ignoredGlobs    []glob.Glob
	mediaExtensions []string
}

// NewClassifier compiles the ignore patterns from config. A nil config uses the defaults.
func NewClassifier(config *Config) (*Classifier, error) {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Classifier{
		ignoredPrefixes: config.IgnoredPrefixes,
		mediaExtensions: config.MediaExtensions,
	}

	for _, pattern := range config.IgnoredPatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		c.ignoredGlobs = append(c.ignoredGlobs, g)
	}

	return c, nil
}

// IsIgnored reports whether the link must never be fetched or reported. Links
// with a scheme other than http or https are always ignored.
func (c *Classifier) IsIgnored(link string) bool {
	if scheme, ok := linkScheme(link); ok && scheme != "http" && scheme != "https" {
		return true
	}
	for _, prefix := range c.ignoredPrefixes {
		if strings.HasPrefix(link, prefix) {
			return true
		}
	}
	for _, g := range c.ignoredGlobs {
		if g.Match(link) {
			return true
		}
	}
	return false
}

// linkScheme returns the lower-cased RFC 3986 scheme of link, if it has one.
func linkScheme(link string) (string, bool) {
	for i := 0; i < len(link); i++ {
		ch := link[i]
		switch {
		case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z':
		case '0' <= ch && ch <= '9', ch == '+', ch == '-', ch == '.':
			if i == 0 {
				return "", false
			}
		case ch == ':':
			if i == 0 {
				return "", false
			}
			return strings.ToLower(link[:i]), true
		default:
			return "", false
		}
	}
	return "", false
}

// IsMedia reports whether the URL path ends with one of the media extensions.
// An unparseable link yields an error and is not media.
func (c *Classifier) IsMedia(link string) (bool, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return false, fmt.Errorf("media check for %q: %w", link, err)
	}

	for _, ext := range c.mediaExtensions {
		if strings.HasSuffix(parsed.Path, ext) {
			return true, nil
		}
	}
	return false, nil
}

// IsOutbound reports whether link lies outside the website scope.
func IsOutbound(link, website string) bool {
	return !strings.HasPrefix(link, website)
}

// Classify returns the kind of link relative to website. Precedence is
// ignored, media, outbound, page. The error is non-nil only when the media
// check could not parse the link; the kind is still usable in that case.
func (c *Classifier) Classify(link, website string) (LinkKind, error) {
	if c.IsIgnored(link) {
		return KindIgnored, nil
	}

	isMedia, err := c.IsMedia(link)
	if isMedia {
		return KindMedia, nil
	}

	if IsOutbound(link, website) {
		return KindOutbound, err
	}
	return KindPage, err
}
