package jobs

import (
	"context"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/db"
)

// LinkExtractor fetches a page and returns the raw href of every anchor on it
// together with the URL those hrefs are relative to.
type LinkExtractor interface {
	ExtractLinks(ctx context.Context, pageURL string) (*crawler.PageLinks, error)
}

// StatusChecker probes link reachability. Implementations never fail; an
// unreachable target is reported through the returned status.
type StatusChecker interface {
	CheckStatus(ctx context.Context, link string) crawler.Status
	IsMediaBroken(ctx context.Context, link string) (bool, crawler.Status)
}

// ProgressReporter receives (current, total) page progress during a run.
type ProgressReporter interface {
	UpdateProgress(website, user string, current, total int)
}

// ResultSink persists the outcome of a run.
type ResultSink interface {
	ReplaceBrokenEntries(ctx context.Context, host string, links, media []db.BrokenLink) error
	UpsertStatistic(ctx context.Context, stat db.Statistic) error
}

// ExceptionLogger records non-fatal failures.
type ExceptionLogger interface {
	LogException(ctx context.Context, err error, where string) error
}

type noopProgress struct{}

func (noopProgress) UpdateProgress(string, string, int, int) {}
