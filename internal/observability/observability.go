package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls observability initialisation.
type Config struct {
	Enabled        bool
	ServiceName    string
	Environment    string
	OTLPEndpoint   string
	OTLPHeaders    map[string]string
	OTLPInsecure   bool
	MetricsAddress string
}

// Providers exposes configured telemetry providers.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Propagator     propagation.TextMapPropagator
	MetricsHandler http.Handler
	Shutdown       func(ctx context.Context) error
	Config         Config
}

var (
	initOnce sync.Once

	crawlTracer trace.Tracer

	linkCheckTotal metric.Int64Counter
	runDuration    metric.Float64Histogram
	runPages       metric.Int64Histogram
)

const instrumentationName = "broken-link-bee/crawl"

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "broken-link-bee"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	var spanExporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracehttp.Option{
			getOTLPEndpointOption(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.OTLPHeaders) > 0 {
			clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
		}

		exp, err := otlptracehttp.New(ctx, clientOpts...)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP trace exporter unavailable, traces disabled")
		} else {
			spanExporter = exp
			log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("OTLP trace exporter initialised")
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	promExporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		crawlTracer = tracerProvider.Tracer(instrumentationName)
		_ = initCrawlInstruments(meterProvider)
	})

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var allErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("metric provider shutdown: %w", err))
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			allErr = errors.Join(allErr, fmt.Errorf("trace provider shutdown: %w", err))
		}
		return allErr
	}

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Propagator:     prop,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:       shutdown,
		Config:         cfg,
	}, nil
}

func getOTLPEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// WrapHandler applies OpenTelemetry instrumentation to an http.Handler when the providers are active.
func WrapHandler(handler http.Handler, prov *Providers) http.Handler {
	if prov == nil || prov.TracerProvider == nil {
		return handler
	}

	options := []otelhttp.Option{
		otelhttp.WithTracerProvider(prov.TracerProvider),
		otelhttp.WithPropagators(prov.Propagator),
		otelhttp.WithMeterProvider(prov.MeterProvider),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasPrefix(r.URL.Path, "/health")
		}),
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

func initCrawlInstruments(meterProvider *sdkmetric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter(instrumentationName)

	var err error
	linkCheckTotal, err = meter.Int64Counter(
		"blb.link.check.total",
		metric.WithDescription("Counts link checks by kind and outcome"),
	)
	if err != nil {
		return err
	}

	runDuration, err = meter.Float64Histogram(
		"blb.run.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall-clock time of a full crawl run"),
	)
	if err != nil {
		return err
	}

	runPages, err = meter.Int64Histogram(
		"blb.run.pages",
		metric.WithDescription("Pages discovered per crawl run"),
	)
	return err
}

func tracer() trace.Tracer {
	if crawlTracer != nil {
		return crawlTracer
	}
	return otel.Tracer(instrumentationName)
}

// RunSpanInfo describes the attributes used when starting a crawl run span.
type RunSpanInfo struct {
	RunID   string
	Website string
	User    string
}

// StartRunSpan starts the root span for a crawl run.
func StartRunSpan(ctx context.Context, info RunSpanInfo) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("crawl.website", info.Website),
		attribute.String("crawl.user", info.User),
	}
	if info.RunID != "" {
		attrs = append(attrs, attribute.String("crawl.run_id", info.RunID))
	}

	return tracer().Start(ctx, "crawl.run", trace.WithAttributes(attrs...))
}

// StartPageSpan starts a span covering the link checks of one page.
func StartPageSpan(ctx context.Context, page string, index, total int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("crawl.page", page),
		attribute.Int("crawl.page_index", index),
		attribute.Int("crawl.page_total", total),
	))
}

// RecordLinkCheck counts a single link verification.
func RecordLinkCheck(ctx context.Context, kind string, broken bool) {
	if linkCheckTotal == nil {
		return
	}

	outcome := "ok"
	if broken {
		outcome = "broken"
	}
	linkCheckTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("link.kind", kind), attribute.String("link.outcome", outcome)))
}

// RunMetrics describes a finished crawl run for metric recording.
type RunMetrics struct {
	Status   string
	Pages    int
	Duration time.Duration
}

// RecordRun emits run metrics when instrumentation is initialised.
func RecordRun(ctx context.Context, m RunMetrics) {
	attrs := metric.WithAttributes(attribute.String("run.status", m.Status))

	if runDuration != nil {
		runDuration.Record(ctx, float64(m.Duration.Milliseconds()), attrs)
	}
	if runPages != nil {
		runPages.Record(ctx, int64(m.Pages), attrs)
	}
}
