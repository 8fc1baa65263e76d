package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
	"github.com/Harvey-AU/broken-link-bee/internal/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ErrBrokenFound is returned with --fail-on-broken when the run found broken entries.
var ErrBrokenFound = errors.New("broken links found")

type options struct {
	url              string
	format           string
	pageConcurrency  int
	checkConcurrency int
	maxPages         int
	timeout          time.Duration
	rateLimit        int
	retries          int
	ignore           []string
	allowPrivate     bool
	failOnBroken     bool
	verbose          bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Find broken links and media on a website",
		Long: `check crawls every page of a website reachable from the given URL,
probes each link found on those pages and prints the broken ones.

Examples:
  # Print broken links as a table
  check -u https://example.com/

  # Export as CSV with more parallel probes
  check -u https://example.com/ -f csv -c 20 > broken.csv
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), opts, stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.url, "url", "u", "", "Website to check (required)")
	flags.StringVarP(&opts.format, "format", "f", "table", "Output format: table, json or csv")
	flags.IntVarP(&opts.checkConcurrency, "concurrency", "c", 10, "Links probed concurrently per page")
	flags.IntVar(&opts.pageConcurrency, "page-concurrency", 5, "Pages fetched concurrently during discovery")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "Stop discovery after this many pages (0 = unbounded)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for each page fetch or link probe")
	flags.IntVar(&opts.rateLimit, "rate-limit", 0, "Requests per second per host (0 = unlimited)")
	flags.IntVar(&opts.retries, "retries", 0, "Extra probe attempts after a transport failure")
	flags.StringSliceVar(&opts.ignore, "ignore", nil, "Glob patterns of links to skip")
	flags.BoolVar(&opts.allowPrivate, "allow-private-hosts", false, "Allow crawling loopback and private network addresses")
	flags.BoolVar(&opts.failOnBroken, "fail-on-broken", false, "Exit non-zero when broken links are found")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log crawl progress")

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}

	return cmd
}

func runCheck(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	writer, err := outputWriter(opts.format)
	if err != nil {
		return err
	}

	website, err := util.NormaliseWebsite(opts.url)
	if err != nil {
		return err
	}

	cfg := crawler.DefaultConfig()
	cfg.DefaultTimeout = opts.timeout
	cfg.PageConcurrency = max(1, opts.pageConcurrency)
	cfg.CheckConcurrency = max(1, opts.checkConcurrency)
	cfg.MaxPages = max(0, opts.maxPages)
	cfg.RateLimit = max(0, opts.rateLimit)
	cfg.RetryAttempts = max(0, opts.retries)
	cfg.IgnoredPatterns = opts.ignore
	cfg.SkipSSRFCheck = opts.allowPrivate

	classifier, err := crawler.NewClassifier(cfg)
	if err != nil {
		return fmt.Errorf("invalid ignore pattern: %w", err)
	}

	cr := crawler.New(cfg)
	sink := jobs.NewMemorySink()

	runner, err := jobs.NewRunner(jobs.Dependencies{
		Extractor:  cr,
		Checker:    cr,
		Classifier: classifier,
		Progress:   progressLogger{},
		Sink:       sink,
		Exceptions: sink,
	}, jobs.RunnerConfig{
		PageConcurrency:  cfg.PageConcurrency,
		CheckConcurrency: cfg.CheckConcurrency,
		MaxPages:         cfg.MaxPages,
	})
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, website, "")
	if err != nil {
		return err
	}

	if err := writer(stdout, result); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	_, _ = fmt.Fprintf(stderr, "Checked %d pages in %ds: %d broken links, %d broken media\n",
		result.Statistic.PagesAmount, result.Statistic.AnalysisTime,
		len(result.BrokenLinks), len(result.BrokenMedia))

	if opts.failOnBroken && len(result.BrokenLinks)+len(result.BrokenMedia) > 0 {
		return ErrBrokenFound
	}
	return nil
}

// progressLogger reports page progress at info level.
type progressLogger struct{}

func (progressLogger) UpdateProgress(website, _ string, current, total int) {
	log.Info().
		Str("website", website).
		Int("current", current).
		Int("total", total).
		Msg("Crawl progress")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
