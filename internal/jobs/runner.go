package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/db"
	"github.com/Harvey-AU/broken-link-bee/internal/observability"
	"github.com/Harvey-AU/broken-link-bee/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators a Runner drives.
type Dependencies struct {
	Extractor  LinkExtractor
	Checker    StatusChecker
	Classifier *crawler.Classifier
	Progress   ProgressReporter
	Sink       ResultSink
	Exceptions ExceptionLogger
}

// RunnerConfig bounds the concurrency of a single run.
type RunnerConfig struct {
	PageConcurrency  int // Pages fetched concurrently during discovery
	CheckConcurrency int // Links probed concurrently per page
	MaxPages         int // Discovery cap, 0 means unbounded
}

// Runner discovers the pages of a website, verifies every link on them and
// hands the broken entries to its sink.
type Runner struct {
	extractor  LinkExtractor
	checker    StatusChecker
	classifier *crawler.Classifier
	progress   ProgressReporter
	sink       ResultSink
	exceptions ExceptionLogger
	config     RunnerConfig

	hostLocks *keyedMutex
	now       func() time.Time
}

// NewRunner validates deps and creates a Runner.
func NewRunner(deps Dependencies, config RunnerConfig) (*Runner, error) {
	if deps.Extractor == nil {
		return nil, errors.New("link extractor is required")
	}
	if deps.Checker == nil {
		return nil, errors.New("status checker is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("result sink is required")
	}

	classifier := deps.Classifier
	if classifier == nil {
		var err error
		if classifier, err = crawler.NewClassifier(nil); err != nil {
			return nil, err
		}
	}

	progress := deps.Progress
	if progress == nil {
		progress = noopProgress{}
	}

	if config.PageConcurrency < 1 {
		config.PageConcurrency = 1
	}
	if config.CheckConcurrency < 1 {
		config.CheckConcurrency = 1
	}

	return &Runner{
		extractor:  deps.Extractor,
		checker:    deps.Checker,
		classifier: classifier,
		progress:   progress,
		sink:       deps.Sink,
		exceptions: deps.Exceptions,
		config:     config,
		hostLocks:  newKeyedMutex(),
		now:        time.Now,
	}, nil
}

// Run crawls website on behalf of user. Link and page failures never abort
// the run; cancellation and sink errors do, and nothing is persisted after
// a cancellation.
func (r *Runner) Run(ctx context.Context, website, user string) (*Result, error) {
	return r.run(ctx, "", website, user)
}

func (r *Runner) run(ctx context.Context, runID, website, user string) (result *Result, err error) {
	start := r.now()

	ctx, span := observability.StartRunSpan(ctx, observability.RunSpanInfo{
		RunID:   runID,
		Website: website,
		User:    user,
	})
	defer span.End()

	pagesAmount := 0
	defer func() {
		status := string(RunStatusCompleted)
		if err != nil {
			status = string(RunStatusFailed)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				status = string(RunStatusCancelled)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		}
		observability.RecordRun(ctx, observability.RunMetrics{
			Status:   status,
			Pages:    pagesAmount,
			Duration: r.now().Sub(start),
		})
	}()

	log.Info().
		Str("website", website).
		Str("user", user).
		Str("run_id", runID).
		Msg("Starting crawl run")

	r.progress.UpdateProgress(website, user, 0, 1)

	discoverer := NewDiscoverer(r.extractor, r.classifier, r.config.PageConcurrency, r.config.MaxPages)
	discoverer.onException = r.reportException

	pages, err := discoverer.Discover(ctx, website)
	if err != nil {
		return nil, fmt.Errorf("discover pages: %w", err)
	}
	pagesAmount = len(pages)
	total := len(pages)
	span.SetAttributes(attribute.Int("crawl.pages", total))

	result = &Result{
		BrokenLinks: make([]db.BrokenLink, 0),
		BrokenMedia: make([]db.BrokenLink, 0),
	}
	probes := newProbeCache(r.checker)

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("verify pages: %w", err)
		}

		r.progress.UpdateProgress(website, user, i, total)

		links, media := r.verifyPage(ctx, probes, website, page, i, total)
		result.BrokenLinks = append(result.BrokenLinks, links...)
		result.BrokenMedia = append(result.BrokenMedia, media...)
	}

	r.progress.UpdateProgress(website, user, total, total)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("verify pages: %w", err)
	}

	unlock := r.hostLocks.Lock(website)
	defer unlock()

	storeSpan := sentry.StartSpan(ctx, "crawl.store")
	storeSpan.SetTag("website", website)
	defer storeSpan.Finish()

	if err := r.sink.ReplaceBrokenEntries(ctx, website, result.BrokenLinks, result.BrokenMedia); err != nil {
		storeSpan.SetTag("error", "true")
		return nil, fmt.Errorf("replace broken entries: %w", err)
	}

	result.Statistic = db.Statistic{
		Website:      website,
		PagesAmount:  total,
		AnalysisTime: int(r.now().Sub(start) / time.Second),
	}
	if err := r.sink.UpsertStatistic(ctx, result.Statistic); err != nil {
		storeSpan.SetTag("error", "true")
		return nil, fmt.Errorf("upsert statistic: %w", err)
	}

	log.Info().
		Str("website", website).
		Str("user", user).
		Str("run_id", runID).
		Int("pages", total).
		Int("broken_links", len(result.BrokenLinks)).
		Int("broken_media", len(result.BrokenMedia)).
		Int("analysis_time_s", result.Statistic.AnalysisTime).
		Msg("Crawl run completed")

	return result, nil
}

type linkOutcome struct {
	ref    LinkReference
	broken bool
	status crawler.Status
}

// verifyPage checks every link on page with bounded concurrency and returns
// the broken links and media in the order they appear on the page.
func (r *Runner) verifyPage(ctx context.Context, probes *probeCache, website, page string, index, total int) (links, media []db.BrokenLink) {
	ctx, span := observability.StartPageSpan(ctx, page, index, total)
	defer span.End()

	fetched, err := r.extractor.ExtractLinks(ctx, page)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Err(err).
				Str("page", page).
				Msg("Skipping page verification, fetch failed")
		}
		return nil, nil
	}
	if fetched == nil {
		return nil, nil
	}

	refs := r.collectReferences(ctx, website, page, baseFor(fetched, page), fetched.Hrefs)
	outcomes := make([]linkOutcome, len(refs))

	var g errgroup.Group
	g.SetLimit(r.config.CheckConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			out := probes.check(ctx, ref.Target, ref.Kind == crawler.KindMedia)
			outcomes[i] = linkOutcome{ref: ref, broken: out.broken, status: out.status}
			observability.RecordLinkCheck(ctx, ref.Kind.String(), out.broken)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if !out.broken {
			continue
		}
		entry := db.BrokenLink{
			Host:    website,
			Page:    page,
			Link:    out.ref.Target,
			Status:  out.status.Code,
			IsMedia: out.ref.Kind == crawler.KindMedia,
		}
		if entry.IsMedia {
			media = append(media, entry)
		} else {
			links = append(links, entry)
		}
	}

	span.SetAttributes(
		attribute.Int("crawl.links", len(refs)),
		attribute.Int("crawl.broken", len(links)+len(media)),
	)

	return links, media
}

// collectReferences normalises the hrefs of page in verification mode, resolving
// relative ones against base, and drops ignored and unusable links. Outbound
// links are verified as pages.
func (r *Runner) collectReferences(ctx context.Context, website, page, base string, hrefs []string) []LinkReference {
	refs := make([]LinkReference, 0, len(hrefs))
	for _, raw := range hrefs {
		link, err := util.NormaliseLink(raw, website, base, util.ModeVerification)
		if err != nil {
			continue
		}

		kind, err := r.classifier.Classify(link, website)
		if err != nil {
			r.reportException(ctx, err, "verification media check")
		}

		switch kind {
		case crawler.KindIgnored:
			continue
		case crawler.KindMedia:
			refs = append(refs, LinkReference{Source: page, Target: link, Kind: crawler.KindMedia})
		default:
			refs = append(refs, LinkReference{Source: page, Target: link, Kind: crawler.KindPage})
		}
	}
	return refs
}

// reportException logs a non-fatal failure and forwards it to Sentry and the
// exception log.
func (r *Runner) reportException(ctx context.Context, err error, where string) {
	log.Warn().
		Err(err).
		Str("context", where).
		Msg("Non-fatal crawl exception")

	sentry.CaptureException(err)

	if r.exceptions == nil {
		return
	}
	if logErr := r.exceptions.LogException(ctx, err, where); logErr != nil {
		log.Error().
			Err(logErr).
			Str("context", where).
			Msg("Failed to record exception")
	}
}
