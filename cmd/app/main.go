package main

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Harvey-AU/searchpilot/internal/config"
	"github.com/Harvey-AU/searchpilot/internal/observability"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Env holds the process-level settings loaded from environment variables.
// Session behaviour lives in config.Config.
type Env struct {
	Env                  string // Environment (development/production)
	SentryDSN            string // Sentry DSN for error tracking
	LogLevel             string // Log level (debug, info, warn, error)
	ObservabilityEnabled bool   // Toggle OpenTelemetry + Prometheus exporters
	MetricsAddr          string // Address for Prometheus metrics endpoint (":9464" style)
	OTLPEndpoint         string // OTLP HTTP endpoint for trace export
	OTLPHeaders          string // Comma separated headers for OTLP exporter
	OTLPInsecure         bool   // Disable TLS verification for OTLP exporter
	ChromeBin            string // Chrome binary; empty lets rod locate one
}

func main() {
	os.Exit(run())
}

func run() int {
	env := loadEnv(processLookup(config.DefaultEnvFiles...))
	setupLogging(env)

	if env.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         env.SentryDSN,
			Environment: env.Env,
			TracesSampleRate: func() float64 {
				if env.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            env.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Debug().Str("environment", env.Env).Msg("Sentry initialised")
			// Ensure Sentry flushes before the process exits
			defer sentry.Flush(2 * time.Second)
		}
	}

	if env.ObservabilityEnabled {
		shutdown := startObservability(env)
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, newApp(env), os.Args[1:])
}

// processLookup resolves process settings from the environment, falling
// back to the given .env files (earlier files win). The files are read, not
// exported, so session keys are left for config.Load and --env-file.
func processLookup(files ...string) config.LookupFunc {
	fileEnv := make(map[string]string)
	for i := len(files) - 1; i >= 0; i-- {
		values, err := godotenv.Read(files[i])
		if err != nil {
			continue
		}
		maps.Copy(fileEnv, values)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
}

func loadEnv(lookup config.LookupFunc) Env {
	get := func(key, defaultValue string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return defaultValue
	}
	return Env{
		Env:                  get("APP_ENV", "development"),
		SentryDSN:            get("SENTRY_DSN", ""),
		LogLevel:             get("LOG_LEVEL", "info"),
		ObservabilityEnabled: get("OBSERVABILITY_ENABLED", "false") == "true",
		MetricsAddr:          get("METRICS_ADDR", ":9464"),
		OTLPEndpoint:         get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPHeaders:          get("OTEL_EXPORTER_OTLP_HEADERS", ""),
		OTLPInsecure:         get("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		ChromeBin:            get("CHROME_BIN", ""),
	}
}

// startObservability initialises the telemetry providers and, when a metrics
// address is set, serves Prometheus metrics until the returned func is called.
func startObservability(env Env) func() {
	providers, err := observability.Init(context.Background(), observability.Config{
		Enabled:        true,
		ServiceName:    "searchpilot",
		Environment:    env.Env,
		OTLPEndpoint:   strings.TrimSpace(env.OTLPEndpoint),
		OTLPHeaders:    parseOTLPHeaders(env.OTLPHeaders),
		OTLPInsecure:   env.OTLPInsecure,
		MetricsAddress: env.MetricsAddr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialise observability providers")
		return func() {}
	}

	var metricsSrv *http.Server
	if providers.MetricsHandler != nil && env.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              env.MetricsAddr,
			Handler:           observability.WrapHandler(providers.MetricsHandler, providers),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", env.MetricsAddr).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
			}
		}
		if err := providers.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
		}
	}
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return headers
	}

	for _, pair := range strings.Split(raw, ",") {
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
func setupLogging(env Env) {
	level, err := zerolog.ParseLevel(env.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Logs go to stderr; stdout carries command output
	if env.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Str("service", "searchpilot").
			Logger()
	}
}
