package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/api"
	"github.com/Harvey-AU/broken-link-bee/internal/cache"
	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServerHandler(t *testing.T, limiter *api.RateLimiter) http.Handler {
	t.Helper()
	sink := jobs.NewMemorySink()
	runner, err := jobs.NewRunner(jobs.Dependencies{
		Extractor: crawler.New(nil),
		Checker:   crawler.New(nil),
		Sink:      sink,
	}, jobs.RunnerConfig{})
	require.NoError(t, err)

	manager := jobs.NewManager(runner)
	t.Cleanup(manager.Stop)

	return buildHandler(api.NewHandler(manager, cache.NewProgressBoard(), sink, nil), limiter, nil)
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServerHandler(t, api.NewRateLimiter(100, 100))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service":"broken-link-bee"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDatabaseHealthWithoutDatabase(t *testing.T) {
	handler := newTestServerHandler(t, api.NewRateLimiter(100, 100))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerRateLimited(t *testing.T) {
	handler := newTestServerHandler(t, api.NewRateLimiter(0.001, 1))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoadCrawlerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadCrawlerConfig()
		assert.Equal(t, 5, cfg.PageConcurrency)
		assert.Equal(t, 10, cfg.CheckConcurrency)
		assert.Equal(t, 30*time.Second, cfg.DefaultTimeout)
		assert.Zero(t, cfg.RetryAttempts)
		assert.Empty(t, cfg.IgnoredPatterns)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("CRAWL_TIMEOUT_SECONDS", "5")
		t.Setenv("CRAWL_PAGE_CONCURRENCY", "2")
		t.Setenv("CRAWL_CHECK_CONCURRENCY", "0")
		t.Setenv("CRAWL_MAX_PAGES", "100")
		t.Setenv("CRAWL_RATE_LIMIT", "4")
		t.Setenv("CRAWL_RETRY_ATTEMPTS", "2")
		t.Setenv("CRAWL_USER_AGENT", "TestBot/1.0")
		t.Setenv("CRAWL_IGNORE_PATTERNS", "*/admin/*, ,*.zip")

		cfg := loadCrawlerConfig()
		assert.Equal(t, 5*time.Second, cfg.DefaultTimeout)
		assert.Equal(t, 2, cfg.PageConcurrency)
		assert.Equal(t, 1, cfg.CheckConcurrency, "clamped to at least one")
		assert.Equal(t, 100, cfg.MaxPages)
		assert.Equal(t, 4, cfg.RateLimit)
		assert.Equal(t, 2, cfg.RetryAttempts)
		assert.Equal(t, "TestBot/1.0", cfg.UserAgent)
		assert.Equal(t, []string{"*/admin/*", "*.zip"}, cfg.IgnoredPatterns)
	})
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("BLB_TEST_INT", "42")
	t.Setenv("BLB_TEST_BAD_INT", "forty")
	t.Setenv("BLB_TEST_FLOAT", "2.5")
	t.Setenv("BLB_TEST_NEG_FLOAT", "-1")

	assert.Equal(t, 42, getEnvInt("BLB_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("BLB_TEST_BAD_INT", 1))
	assert.Equal(t, 7, getEnvInt("BLB_TEST_UNSET", 7))
	assert.Equal(t, 2.5, getEnvFloat("BLB_TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvFloat("BLB_TEST_NEG_FLOAT", 1))
	assert.Equal(t, "fallback", getEnvWithDefault("BLB_TEST_UNSET", "fallback"))
}

func TestParseOTLPHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "Authorization=Bearer abc", map[string]string{"Authorization": "Bearer abc"}},
		{"multiple_with_spaces", " a = 1 , b=2 ", map[string]string{"a": "1", "b": "2"}},
		{"skips_invalid", "novalue,=x,c=3", map[string]string{"c": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOTLPHeaders(tt.raw))
		})
	}
}

func TestDatabaseConfigured(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "")
	assert.False(t, databaseConfigured())

	t.Setenv("POSTGRES_HOST", "localhost")
	assert.True(t, databaseConfigured())
}

func TestLoadConfigRunRetention(t *testing.T) {
	t.Setenv("RUN_RETENTION_MINUTES", "")
	assert.Equal(t, time.Hour, loadConfig().RunRetention)

	t.Setenv("RUN_RETENTION_MINUTES", "15")
	assert.Equal(t, 15*time.Minute, loadConfig().RunRetention)

	t.Setenv("RUN_RETENTION_MINUTES", "0")
	assert.Equal(t, time.Minute, loadConfig().RunRetention)
}

func TestPruneEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 10)
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		pruneEvery(ctx, 5*time.Millisecond, "test", func() int {
			select {
			case calls <- struct{}{}:
			default:
			}
			return 1
		})
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("prune was never called")
	}

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("pruneEvery did not stop after cancel")
	}
}
