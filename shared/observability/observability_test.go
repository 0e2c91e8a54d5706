package observability

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestPrometheusMetricsExposeDomainCounters(t *testing.T) {
	mp, handler, err := SetupPrometheusMetrics()
	require.NoError(t, err)
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("persona-ritual"))
	require.NoError(t, err)

	ctx := context.Background()
	m.SurveyResponseAccepted(ctx)
	m.PersonaSynthesized(ctx, true)
	m.ChatMessage(ctx, "USER")
	m.ConnectionOpened(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "survey_responses_total")
	assert.Contains(t, string(body), "personas_synthesized_total")
	assert.Contains(t, string(body), `fallback="true"`)
	assert.Contains(t, string(body), "realtime_connections")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.SurveyReady(ctx)
		m.ModerationRejected(ctx)
		m.ConnectionClosed(ctx)
	})
	assert.NotPanics(t, func() { NewNopMetrics().GenerationFailed(ctx, "chat") })
}

func TestSetupTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing("persona-ritual-test", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit-span")
}
