package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// LinkMode selects how aggressively a raw href is canonicalised.
type LinkMode int

const (
	// ModeVerification keeps the link as written on the page, minus its fragment.
	ModeVerification LinkMode = iota
	// ModeDiscovery additionally drops comment-reply query strings so a page
	// is not forked into one duplicate per comment.
	ModeDiscovery
)

// ReplyMarker is the query parameter that WordPress-style comment reply links carry.
const ReplyMarker = "replytocom"

var (
	// ErrEmptyLink is returned when nothing is left of an href after trimming.
	ErrEmptyLink = errors.New("empty link")
	// ErrMalformedLink is returned for relative hrefs that cannot be made absolute.
	ErrMalformedLink = errors.New("malformed relative link")
)

// NormaliseDomain removes http/https prefix and www. from domain
func NormaliseDomain(domain string) string {
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "www.")
	domain = strings.TrimSuffix(domain, "/")

	return domain
}

// NormaliseWebsite validates a seed URL. The returned string is the scope
// boundary for a crawl, so apart from trimming whitespace it is not rewritten.
func NormaliseWebsite(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("website cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid website URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("website must use http or https: %s", rawURL)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("website has no host: %s", rawURL)
	}

	return rawURL, nil
}

// TrimFragment drops everything from the first '#'.
func TrimFragment(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		return link[:i]
	}
	return link
}

// TrimReplyMarker drops the query string when its first parameter is the reply marker.
func TrimReplyMarker(link string) string {
	base, query, found := strings.Cut(link, "?")
	if found && strings.HasPrefix(query, ReplyMarker) {
		return base
	}
	return link
}

// NormaliseLink turns a raw href found on source into an absolute URL that can
// be compared by string prefix against website. Links with a scheme are
// returned untouched; site-relative links are appended to the website with its
// trailing slash trimmed; other relative links are resolved against source.
func NormaliseLink(raw, website, source string, mode LinkMode) (string, error) {
	link := TrimFragment(strings.TrimSpace(raw))
	if mode == ModeDiscovery {
		link = TrimReplyMarker(link)
	}
	if link == "" {
		return "", ErrEmptyLink
	}

	if hasScheme(link) {
		return link, nil
	}

	if strings.HasPrefix(link, "//") {
		scheme, _, _ := strings.Cut(website, "://")
		return scheme + ":" + link, nil
	}

	if strings.HasPrefix(link, "/") {
		return strings.TrimSuffix(website, "/") + link, nil
	}

	if source == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedLink, link)
	}

	base, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("%w: bad source %q: %v", ErrMalformedLink, source, err)
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedLink, link, err)
	}

	return base.ResolveReference(ref).String(), nil
}

// hasScheme reports whether link starts with an RFC 3986 scheme followed by ':'.
func hasScheme(link string) bool {
	for i := 0; i < len(link); i++ {
		c := link[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' || c == '+' || c == '-' || c == '.':
			if i == 0 {
				return false
			}
		case c == ':':
			return i > 0
		default:
			return false
		}
	}
	return false
}

// ExtractPathFromURL extracts just the path component from a full URL
func ExtractPathFromURL(fullURL string) string {
	path := fullURL
	path = strings.TrimPrefix(path, "http://")
	path = strings.TrimPrefix(path, "https://")
	path = strings.TrimPrefix(path, "www.")

	// Find the first slash after the domain name
	domainEnd := strings.Index(path, "/")
	if domainEnd != -1 {
		path = path[domainEnd:]
	} else {
		path = "/"
	}

	return path
}
