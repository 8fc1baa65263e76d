package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Harvey-AU/broken-link-bee/internal/api"
	"github.com/Harvey-AU/broken-link-bee/internal/cache"
	"github.com/Harvey-AU/broken-link-bee/internal/crawler"
	"github.com/Harvey-AU/broken-link-bee/internal/db"
	"github.com/Harvey-AU/broken-link-bee/internal/jobs"
	"github.com/Harvey-AU/broken-link-bee/internal/notifications"
	"github.com/Harvey-AU/broken-link-bee/internal/observability"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the service settings read from the environment
type Config struct {
	Port                 string        // HTTP port to listen on
	Env                  string        // Environment (development/production)
	SentryDSN            string        // DSN for Sentry error tracking
	LogLevel             string        // Log level (debug, info, warn, error)
	ObservabilityEnabled bool          // Toggle OpenTelemetry + Prometheus instrumentation
	MetricsAddr          string        // Address for Prometheus metrics endpoint
	OTLPEndpoint         string        // OTLP HTTP endpoint for traces
	OTLPHeaders          string        // Comma separated headers for OTLP exporter
	OTLPInsecure         bool          // Disable TLS verification for OTLP exporter
	APIRateLimit         float64       // Requests per second allowed per client IP
	APIRateBurst         int           // Burst allowance per client IP
	RunRetention         time.Duration // How long finished runs and idle progress stay in memory
}

func loadConfig() *Config {
	return &Config{
		Port:                 getEnvWithDefault("PORT", "8080"),
		Env:                  getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		ObservabilityEnabled: getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:          getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:          os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:         getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		APIRateLimit:         getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:         getEnvInt("API_RATE_BURST", 10),
		RunRetention:         time.Duration(max(1, getEnvInt("RUN_RETENTION_MINUTES", 60))) * time.Minute,
	}
}

// loadCrawlerConfig applies CRAWL_* overrides to the crawler defaults. The
// service crawls with more concurrency than the sequential defaults.
func loadCrawlerConfig() *crawler.Config {
	cfg := crawler.DefaultConfig()
	cfg.DefaultTimeout = time.Duration(getEnvInt("CRAWL_TIMEOUT_SECONDS", int(cfg.DefaultTimeout/time.Second))) * time.Second
	cfg.PageConcurrency = max(1, getEnvInt("CRAWL_PAGE_CONCURRENCY", 5))
	cfg.CheckConcurrency = max(1, getEnvInt("CRAWL_CHECK_CONCURRENCY", 10))
	cfg.MaxPages = max(0, getEnvInt("CRAWL_MAX_PAGES", cfg.MaxPages))
	cfg.RateLimit = max(0, getEnvInt("CRAWL_RATE_LIMIT", cfg.RateLimit))
	cfg.RetryAttempts = max(0, getEnvInt("CRAWL_RETRY_ATTEMPTS", cfg.RetryAttempts))
	if ua := os.Getenv("CRAWL_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}
	cfg.IgnoredPatterns = splitList(os.Getenv("CRAWL_IGNORE_PATTERNS"))
	return cfg
}

func main() {
	// Load .env files - .env.local takes priority for development
	_ = godotenv.Load(".env.local", ".env")

	config := loadConfig()
	setupLogging(config)

	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	obsProviders := startObservability(config)
	if obsProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := obsProviders.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
			}
		}()
	}

	// Storage: PostgreSQL when configured, in-process otherwise
	var (
		pgDB  *db.DB
		sink  jobs.ResultSink
		store api.ResultStore
		excs  jobs.ExceptionLogger
		ping  api.DBPinger
	)
	if databaseConfigured() {
		connectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		var err error
		pgDB, err = db.InitFromEnvWithRetry(connectCtx)
		cancel()
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL database")
		}
		defer pgDB.Close()
		log.Info().Msg("Connected to PostgreSQL database")
		sink, store, excs, ping = pgDB, pgDB, pgDB, pgDB
	} else {
		log.Warn().Msg("No database configured, results are kept in memory only")
		mem := jobs.NewMemorySink()
		sink, store, excs = mem, mem, mem
	}

	crawlerConfig := loadCrawlerConfig()
	cr := crawler.New(crawlerConfig)

	classifier, err := crawler.NewClassifier(crawlerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid CRAWL_IGNORE_PATTERNS")
	}

	progress := cache.NewProgressBoard()

	runner, err := jobs.NewRunner(jobs.Dependencies{
		Extractor:  cr,
		Checker:    cr,
		Classifier: classifier,
		Progress:   progress,
		Sink:       notifications.NewSlackSink(sink, notifications.SlackConfigFromEnv()),
		Exceptions: excs,
	}, jobs.RunnerConfig{
		PageConcurrency:  crawlerConfig.PageConcurrency,
		CheckConcurrency: crawlerConfig.CheckConcurrency,
		MaxPages:         crawlerConfig.MaxPages,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create crawl runner")
	}

	log.Info().
		Int("page_concurrency", crawlerConfig.PageConcurrency).
		Int("check_concurrency", crawlerConfig.CheckConcurrency).
		Int("max_pages", crawlerConfig.MaxPages).
		Int("rate_limit", crawlerConfig.RateLimit).
		Str("environment", config.Env).
		Msg("Configured crawl runner")

	manager := jobs.NewManager(runner)
	defer manager.Stop()

	limiter := api.NewRateLimiter(config.APIRateLimit, config.APIRateBurst)
	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go pruneEvery(pruneCtx, time.Minute, "rate limiters", limiter.Prune)
	go pruneEvery(pruneCtx, time.Minute, "finished runs", func() int {
		return manager.Prune(config.RunRetention)
	})
	go pruneEvery(pruneCtx, time.Minute, "progress entries", func() int {
		return progress.Prune(config.RunRetention, func(website string) bool {
			_, active := manager.ActiveRun(website)
			return active
		})
	})

	apiHandler := api.NewHandler(manager, progress, store, ping)
	handler := buildHandler(apiHandler, limiter, obsProviders)

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		<-stop
		log.Info().Msg("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().
		Str("port", config.Port).
		Str("health", fmt.Sprintf("http://localhost:%s/health", config.Port)).
		Msg("Starting server")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

// buildHandler wires the API routes behind the middleware stack
func buildHandler(apiHandler *api.Handler, limiter *api.RateLimiter, obsProviders *observability.Providers) http.Handler {
	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	// Add middleware in reverse order (outermost last)
	var handler http.Handler = limiter.Middleware(mux)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CrossOriginProtectionMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	return observability.WrapHandler(handler, obsProviders)
}

func startObservability(config *Config) *observability.Providers {
	if !config.ObservabilityEnabled {
		return nil
	}

	providers, err := observability.Init(context.Background(), observability.Config{
		Enabled:        true,
		ServiceName:    "broken-link-bee",
		Environment:    config.Env,
		OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
		OTLPInsecure:   config.OTLPInsecure,
		MetricsAddress: config.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return nil
	}

	if providers.MetricsHandler != nil && config.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           providers.MetricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()

		shutdown := providers.Shutdown
		providers.Shutdown = func(ctx context.Context) error {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
			return shutdown(ctx)
		}
	}

	return providers
}

// pruneEvery calls prune on every tick until ctx is done.
func pruneEvery(ctx context.Context, every time.Duration, what string, prune func() int) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := prune(); removed > 0 {
				log.Debug().Int("removed", removed).Str("kind", what).Msg("Pruned in-memory state")
			}
		}
	}
}

func databaseConfigured() bool {
	return os.Getenv("DATABASE_URL") != "" || os.Getenv("POSTGRES_HOST") != ""
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || result <= 0 {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Float64("default", defaultValue).
			Msg("Invalid number in environment variable, using default")
		return defaultValue
	}

	return result
}

func splitList(raw string) []string {
	var out []string
	for item := range strings.SplitSeq(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)

	for _, pair := range splitList(raw) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}

	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}

	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "broken-link-bee").
		Logger()
}
