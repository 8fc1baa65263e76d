package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
)

// fakeSite serves a fixed link graph keyed by page URL.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string][]string
	bases   map[string]string
	failing map[string]bool
	delay   func(page string) time.Duration
	fetches map[string]int
}

func newFakeSite(pages map[string][]string) *fakeSite {
	return &fakeSite{
		pages:   pages,
		bases:   make(map[string]string),
		failing: make(map[string]bool),
		fetches: make(map[string]int),
	}
}

func (s *fakeSite) ExtractLinks(ctx context.Context, pageURL string) (*crawler.PageLinks, error) {
	if s.delay != nil {
		select {
		case <-time.After(s.delay(pageURL)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[pageURL]++

	if s.failing[pageURL] {
		return nil, errors.New("fetch failed")
	}
	links, ok := s.pages[pageURL]
	if !ok {
		return nil, errors.New("status 404")
	}
	base := pageURL
	if b, ok := s.bases[pageURL]; ok {
		base = b
	}
	return &crawler.PageLinks{BaseURL: base, Hrefs: append([]string(nil), links...)}, nil
}

func (s *fakeSite) fetchCount(pageURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[pageURL]
}

// fakeChecker answers probes from a status table, defaulting to 200.
type fakeChecker struct {
	mu       sync.Mutex
	statuses map[string]crawler.Status
	calls    map[string]int
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func newFakeChecker(statuses map[string]int) *fakeChecker {
	c := &fakeChecker{
		statuses: make(map[string]crawler.Status),
		calls:    make(map[string]int),
	}
	for link, code := range statuses {
		c.statuses[link] = crawler.Status{Code: code}
	}
	return c
}

func (c *fakeChecker) CheckStatus(ctx context.Context, link string) crawler.Status {
	c.mu.Lock()
	c.calls[link]++
	c.inFlight++
	if c.inFlight > c.maxSeen {
		c.maxSeen = c.inFlight
	}
	c.mu.Unlock()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--

	if st, ok := c.statuses[link]; ok {
		return st
	}
	return crawler.Status{Code: 200, Phrase: "OK"}
}

func (c *fakeChecker) IsMediaBroken(ctx context.Context, link string) (bool, crawler.Status) {
	st := c.CheckStatus(ctx, link)
	return !st.OK(), st
}

func (c *fakeChecker) callCount(link string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[link]
}

type progressEvent struct {
	Website string
	User    string
	Current int
	Total   int
}

// progressRecorder keeps every progress event in emission order.
type progressRecorder struct {
	mu     sync.Mutex
	events []progressEvent
}

func (p *progressRecorder) UpdateProgress(website, user string, current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, progressEvent{website, user, current, total})
}

func (p *progressRecorder) snapshot() []progressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progressEvent(nil), p.events...)
}
