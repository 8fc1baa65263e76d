package notifications

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/db"
	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
	"github.com/Harvey-AU/broken-link-bee/internal/util"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// SlackConfig configures run summaries posted to a Slack incoming webhook.
type SlackConfig struct {
	WebhookURL string
	AppURL     string
	Timeout    time.Duration
}

// SlackConfigFromEnv reads SLACK_WEBHOOK_URL and APP_URL. An empty webhook
// URL disables notifications.
func SlackConfigFromEnv() SlackConfig {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:8080"
	}
	return SlackConfig{
		WebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		AppURL:     appURL,
		Timeout:    10 * time.Second,
	}
}

// Summary describes a stored run.
type Summary struct {
	Website      string
	PagesAmount  int
	AnalysisTime int
	BrokenLinks  int
	BrokenMedia  int
}

// SlackSink decorates a result sink and posts a summary to Slack once a
// run's entries and statistic have been stored. Delivery failures are
// logged and never fail the run.
type SlackSink struct {
	next   jobs.ResultSink
	config SlackConfig
	post   func(ctx context.Context, url string, msg *slack.WebhookMessage) error

	mu      sync.Mutex
	pending map[string]Summary
}

// NewSlackSink wraps next. With no webhook configured next is returned as is.
func NewSlackSink(next jobs.ResultSink, config SlackConfig) jobs.ResultSink {
	if config.WebhookURL == "" {
		return next
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &SlackSink{
		next:    next,
		config:  config,
		post:    slack.PostWebhookContext,
		pending: make(map[string]Summary),
	}
}

// ReplaceBrokenEntries stores the entries and remembers their counts for the
// summary sent with the statistic.
func (s *SlackSink) ReplaceBrokenEntries(ctx context.Context, host string, links, media []db.BrokenLink) error {
	if err := s.next.ReplaceBrokenEntries(ctx, host, links, media); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending[host] = Summary{Website: host, BrokenLinks: len(links), BrokenMedia: len(media)}
	s.mu.Unlock()
	return nil
}

// UpsertStatistic stores stat and then delivers the run summary.
func (s *SlackSink) UpsertStatistic(ctx context.Context, stat db.Statistic) error {
	if err := s.next.UpsertStatistic(ctx, stat); err != nil {
		return err
	}

	s.mu.Lock()
	summary, ok := s.pending[stat.Website]
	delete(s.pending, stat.Website)
	s.mu.Unlock()
	if !ok {
		summary = Summary{Website: stat.Website}
	}
	summary.PagesAmount = stat.PagesAmount
	summary.AnalysisTime = stat.AnalysisTime

	s.deliver(ctx, summary)
	return nil
}

func (s *SlackSink) deliver(ctx context.Context, summary Summary) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	msg := &slack.WebhookMessage{
		Text:   summaryText(summary),
		Blocks: &slack.Blocks{BlockSet: buildSummaryBlocks(summary, s.config.AppURL)},
	}

	if err := s.post(ctx, s.config.WebhookURL, msg); err != nil {
		log.Warn().
			Err(err).
			Str("website", summary.Website).
			Msg("Failed to send Slack run summary")
		return
	}

	log.Info().
		Str("website", summary.Website).
		Int("broken_links", summary.BrokenLinks).
		Int("broken_media", summary.BrokenMedia).
		Msg("Slack run summary sent")
}

func summaryText(s Summary) string {
	return fmt.Sprintf("Link check complete: %s: %d broken links, %d broken media across %d pages",
		s.Website, s.BrokenLinks, s.BrokenMedia, s.PagesAmount)
}

func buildSummaryBlocks(s Summary, appURL string) []slack.Block {
	emoji := ":white_check_mark:"
	if s.BrokenLinks+s.BrokenMedia > 0 {
		emoji = ":warning:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *Link check complete: %s*", emoji, util.NormaliseDomain(s.Website)),
				false,
				false,
			),
			nil,
			nil,
		),
		slack.NewSectionBlock(
			nil,
			[]*slack.TextBlockObject{
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Pages*\n%d", s.PagesAmount), false, false),
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Duration*\n%ds", s.AnalysisTime), false, false),
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Broken links*\n%d", s.BrokenLinks), false, false),
				slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*Broken media*\n%d", s.BrokenMedia), false, false),
			},
			nil,
		),
	}

	if appURL != "" && s.BrokenLinks+s.BrokenMedia > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("<%s/v1/broken-links?host=%s|View broken links>", appURL, url.QueryEscape(s.Website)),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	return blocks
}
