package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestInitDisabledIsNoop(t *testing.T) {
	prov, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, prov)
}

func TestWrapHandlerPassesThroughWithoutProviders(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	WrapHandler(h, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRecordingBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		ctx, span := StartSessionSpan(context.Background(), SessionSpanInfo{SessionID: "s1"})
		RecordSession(ctx, SessionMetrics{Status: "completed", Searches: 3, Duration: time.Second})
		RecordChallenge(ctx, "recaptcha_v2", "resolved")
		RecordNavigationFailure(ctx, true)
		span.End()
	})
}

func TestMetricsHandlerExposesSessionMetrics(t *testing.T) {
	ctx := context.Background()
	prov, err := Init(ctx, Config{Enabled: true, Environment: "test"})
	require.NoError(t, err)
	require.NotNil(t, prov)
	t.Cleanup(func() { _ = prov.Shutdown(context.Background()) })

	RecordSession(ctx, SessionMetrics{Status: "completed", Searches: 4, Clicked: true, Duration: 90 * time.Second})
	RecordChallenge(ctx, "recaptcha_v2", "resolved")
	RecordNavigationFailure(ctx, false)

	rr := httptest.NewRecorder()
	WrapHandler(prov.MetricsHandler, prov).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "searchpilot_session_searches")
	assert.Contains(t, body, "searchpilot_session_duration")
	assert.Contains(t, body, "searchpilot_challenge")
	assert.Contains(t, body, "searchpilot_navigation_retries")
}

func TestGetOTLPEndpointOption(t *testing.T) {
	assert.NotNil(t, getOTLPEndpointOption("https://otlp.example.com/v1/traces"))
	assert.NotNil(t, getOTLPEndpointOption("otlp.example.com:4318"))
}

// rejectingMeterProvider hands out meters that refuse histograms
type rejectingMeterProvider struct{ noop.MeterProvider }

func (rejectingMeterProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return rejectingMeter{}
}

type rejectingMeter struct{ noop.Meter }

func (rejectingMeter) Float64Histogram(string, ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
	return nil, errors.New("instrument rejected")
}

func TestRegisterSessionInstrumentsLogsFailure(t *testing.T) {
	duration, total, searches, challenges, retries := sessionDuration, sessionTotal, sessionSearches, challengeTotal, navigationRetries
	prevLogger := log.Logger
	t.Cleanup(func() {
		sessionDuration, sessionTotal, sessionSearches, challengeTotal, navigationRetries = duration, total, searches, challenges, retries
		log.Logger = prevLogger
	})

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	registerSessionInstruments(rejectingMeterProvider{})

	assert.Contains(t, buf.String(), "Failed to register session metrics")
	assert.Contains(t, buf.String(), "instrument rejected")
	assert.NotPanics(t, func() {
		RecordSession(context.Background(), SessionMetrics{Status: "completed", Duration: time.Second})
	})
}
