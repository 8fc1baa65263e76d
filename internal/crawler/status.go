package crawler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CheckStatus issues a HEAD probe against link and never fails: any transport
// error (DNS, refused connection, timeout) is reported as a 404 with
// HostUnreachablePhrase. Transport failures are retried RetryAttempts times.
func (c *Crawler) CheckStatus(ctx context.Context, link string) Status {
	attempts := c.config.RetryAttempts + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := c.probe(ctx, link)
		if err == nil {
			return status
		}

		log.Debug().
			Err(err).
			Str("url", link).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Status probe failed")

		if attempt == attempts || ctx.Err() != nil {
			break
		}

		select {
		case <-ctx.Done():
			return unreachable()
		case <-time.After(c.config.RetryDelay):
		}
	}

	return unreachable()
}

// IsMediaBroken probes a media link; anything other than 200 counts as broken.
func (c *Crawler) IsMediaBroken(ctx context.Context, link string) (bool, Status) {
	status := c.CheckStatus(ctx, link)
	return !status.OK(), status
}

func (c *Crawler) probe(ctx context.Context, link string) (Status, error) {
	parsed, err := url.Parse(link)
	if err != nil {
		return Status{}, err
	}

	if err := c.limiter.wait(ctx, parsed.Host); err != nil {
		return Status{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	return Status{Code: resp.StatusCode, Phrase: reasonPhrase(resp)}, nil
}

// reasonPhrase returns the phrase the server sent, falling back to the standard text.
func reasonPhrase(resp *http.Response) string {
	phrase := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if phrase == "" {
		phrase = http.StatusText(resp.StatusCode)
	}
	return phrase
}
