// Package observability wires OpenTelemetry tracing and Prometheus metrics
// for search sessions.
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

	sessionTracer trace.Tracer

	sessionDuration   metric.Float64Histogram
	sessionTotal      metric.Int64Counter
	sessionSearches   metric.Int64Counter
	challengeTotal    metric.Int64Counter
	navigationRetries metric.Int64Counter
)

// Init configures tracing and metrics exporters. When cfg.Enabled is false the function is a no-op.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "searchpilot"
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
			// Sessions still run without trace export
			log.Warn().Err(err).Str("endpoint", cfg.OTLPEndpoint).Msg("Failed to create OTLP trace exporter, traces disabled")
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
		_ = tracerProvider.Shutdown(ctx) // best-effort cleanup
		return nil, fmt.Errorf("create Prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)

	initOnce.Do(func() {
		sessionTracer = tracerProvider.Tracer("searchpilot/session")
		registerSessionInstruments(meterProvider)
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
	}

	return otelhttp.NewHandler(handler, "http.server", options...)
}

// registerSessionInstruments creates the session instruments. Instruments
// that fail to register stay nil and their recordings are dropped.
func registerSessionInstruments(meterProvider metric.MeterProvider) {
	if err := initSessionInstruments(meterProvider); err != nil {
		log.Warn().Err(err).Msg("Failed to register session metrics")
	}
}

func initSessionInstruments(meterProvider metric.MeterProvider) error {
	if meterProvider == nil {
		return nil
	}

	meter := meterProvider.Meter("searchpilot/session")

	var err error
	sessionDuration, err = meter.Float64Histogram(
		"searchpilot.session.duration_ms",
		metric.WithUnit("ms"),
		metric.WithDescription("Wall time of one search session"),
	)
	if err != nil {
		return err
	}

	sessionTotal, err = meter.Int64Counter(
		"searchpilot.session.total",
		metric.WithDescription("Counts sessions by final status"),
	)
	if err != nil {
		return err
	}

	sessionSearches, err = meter.Int64Counter(
		"searchpilot.session.searches",
		metric.WithDescription("Counts completed queries"),
	)
	if err != nil {
		return err
	}

	challengeTotal, err = meter.Int64Counter(
		"searchpilot.challenge.total",
		metric.WithDescription("Counts challenges by type and resolution"),
	)
	if err != nil {
		return err
	}

	navigationRetries, err = meter.Int64Counter(
		"searchpilot.navigation.retries",
		metric.WithDescription("Counts failed navigation attempts that were retried or exhausted"),
	)
	return err
}

// SessionSpanInfo describes the attributes used when starting a session span.
type SessionSpanInfo struct {
	SessionID       string
	Country         string
	ProxySessionID  int
	PlannedSearches int
}

// SessionMetrics describes a finished session for metric recording.
type SessionMetrics struct {
	Status   string
	Searches int
	Clicked  bool
	Duration time.Duration
}

// StartSessionSpan starts a span covering one orchestrated session.
func StartSessionSpan(ctx context.Context, info SessionSpanInfo) (context.Context, trace.Span) {
	t := sessionTracer
	if t == nil {
		t = otel.Tracer("searchpilot/session")
	}

	attrs := []attribute.KeyValue{
		attribute.String("session.id", info.SessionID),
		attribute.String("session.country", info.Country),
		attribute.Int("proxy.session_id", info.ProxySessionID),
		attribute.Int("session.planned_searches", info.PlannedSearches),
	}

	return t.Start(ctx, "session.run", trace.WithAttributes(attrs...))
}

// RecordSession emits session metrics when instrumentation is initialised.
func RecordSession(ctx context.Context, m SessionMetrics) {
	status := attribute.String("session.status", m.Status)
	if sessionDuration != nil {
		sessionDuration.Record(ctx, float64(m.Duration.Milliseconds()), metric.WithAttributes(status))
	}
	if sessionTotal != nil {
		sessionTotal.Add(ctx, 1, metric.WithAttributes(status, attribute.Bool("session.clicked", m.Clicked)))
	}
	if sessionSearches != nil && m.Searches > 0 {
		sessionSearches.Add(ctx, int64(m.Searches), metric.WithAttributes(status))
	}
}

// RecordChallenge counts one challenge outcome.
func RecordChallenge(ctx context.Context, challengeType, resolution string) {
	if challengeTotal != nil {
		challengeTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("challenge.type", challengeType),
			attribute.String("challenge.resolution", resolution),
		))
	}
}

// RecordNavigationFailure counts one failed navigation attempt.
func RecordNavigationFailure(ctx context.Context, proxyAuth bool) {
	if navigationRetries != nil {
		navigationRetries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("navigation.proxy_auth", proxyAuth)))
	}
}
