package jobs

import (
	"context"
	"errors"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Discoverer walks every in-scope page reachable from a website seed.
type Discoverer struct {
	extractor   LinkExtractor
	classifier  *crawler.Classifier
	concurrency int
	maxPages    int

	// onException receives non-fatal classification failures.
	onException func(ctx context.Context, err error, where string)
}

// NewDiscoverer creates a Discoverer fetching up to concurrency pages at once.
// A maxPages of zero leaves discovery unbounded.
func NewDiscoverer(extractor LinkExtractor, classifier *crawler.Classifier, concurrency, maxPages int) *Discoverer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Discoverer{
		extractor:   extractor,
		classifier:  classifier,
		concurrency: concurrency,
		maxPages:    maxPages,
	}
}

// Discover returns the in-scope pages in breadth-first order, starting with
// website itself. Pages are fetched in batches but merged in queue order, so
// the result depends only on link order within each page.
func (d *Discoverer) Discover(ctx context.Context, website string) ([]string, error) {
	pages := []string{website}
	seen := map[string]struct{}{website: {}}

	for next := 0; next < len(pages); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(next+d.concurrency, len(pages))
		batch := pages[next:end]
		fetched := make([]*crawler.PageLinks, len(batch))

		var g errgroup.Group
		g.SetLimit(d.concurrency)
		for i, page := range batch {
			g.Go(func() error {
				links, err := d.extractor.ExtractLinks(ctx, page)
				if err != nil {
					if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						log.Warn().
							Err(err).
							Str("page", page).
							Msg("Skipping page during discovery, fetch failed")
					}
					return nil
				}
				fetched[i] = links
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i, page := range batch {
			if fetched[i] == nil {
				continue
			}
			source := baseFor(fetched[i], page)
			for _, raw := range fetched[i].Hrefs {
				if d.maxPages > 0 && len(pages) >= d.maxPages {
					break
				}

				link, ok := d.inScopePage(ctx, raw, website, source)
				if !ok {
					continue
				}
				if _, dup := seen[link]; dup {
					continue
				}
				seen[link] = struct{}{}
				pages = append(pages, link)
			}
		}

		next = end
	}

	log.Info().
		Str("website", website).
		Int("pages", len(pages)).
		Msg("Page discovery finished")

	return pages, nil
}

// baseFor returns the URL relative hrefs on page resolve against.
func baseFor(links *crawler.PageLinks, page string) string {
	if links.BaseURL != "" {
		return links.BaseURL
	}
	return page
}

// inScopePage normalises raw in discovery mode and reports whether it is a
// traversable page of website.
func (d *Discoverer) inScopePage(ctx context.Context, raw, website, source string) (string, bool) {
	link, err := util.NormaliseLink(raw, website, source, util.ModeDiscovery)
	if err != nil {
		return "", false
	}

	kind, err := d.classifier.Classify(link, website)
	if err != nil && d.onException != nil {
		d.onException(ctx, err, "discovery media check")
	}

	return link, kind == crawler.KindPage
}
