package jobs

import (
	"context"
	"sync"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"golang.org/x/sync/singleflight"
)

// probeCache makes every distinct link within a run be probed at most once,
// including when several checks for it are in flight together.
type probeCache struct {
	checker StatusChecker
	group   singleflight.Group

	mu      sync.RWMutex
	results map[string]probeOutcome
}

type probeOutcome struct {
	broken bool
	status crawler.Status
}

func newProbeCache(checker StatusChecker) *probeCache {
	return &probeCache{
		checker: checker,
		results: make(map[string]probeOutcome),
	}
}

// check returns the memoised outcome for link, probing it on first use.
// Media and non-media probes are keyed separately.
func (p *probeCache) check(ctx context.Context, link string, media bool) probeOutcome {
	key := "link:" + link
	if media {
		key = "media:" + link
	}

	p.mu.RLock()
	if out, ok := p.results[key]; ok {
		p.mu.RUnlock()
		return out
	}
	p.mu.RUnlock()

	v, _, _ := p.group.Do(key, func() (any, error) {
		var out probeOutcome
		if media {
			out.broken, out.status = p.checker.IsMediaBroken(ctx, link)
		} else {
			out.status = p.checker.CheckStatus(ctx, link)
			out.broken = !out.status.OK()
		}

		// Probes cut short by cancellation are not remembered.
		if ctx.Err() == nil {
			p.mu.Lock()
			p.results[key] = out
			p.mu.Unlock()
		}
		return out, nil
	})

	return v.(probeOutcome)
}
