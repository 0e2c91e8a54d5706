package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the domain counters. A nil *Metrics records nothing.
type Metrics struct {
	surveyResponses      metric.Int64Counter
	surveysReady         metric.Int64Counter
	personasSynthesized  metric.Int64Counter
	chatMessages         metric.Int64Counter
	moderationRejections metric.Int64Counter
	generationFailures   metric.Int64Counter
	activeConnections    metric.Int64UpDownCounter
}

// NewMetrics registers the domain instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.surveyResponses, err = meter.Int64Counter("survey_responses",
		metric.WithDescription("Accepted anonymous survey responses")); err != nil {
		return nil, err
	}
	if m.surveysReady, err = meter.Int64Counter("surveys_ready",
		metric.WithDescription("Surveys that reached their response threshold")); err != nil {
		return nil, err
	}
	if m.personasSynthesized, err = meter.Int64Counter("personas_synthesized",
		metric.WithDescription("Personas created, labelled by whether the fallback was used")); err != nil {
		return nil, err
	}
	if m.chatMessages, err = meter.Int64Counter("chat_messages",
		metric.WithDescription("Chat messages persisted, labelled by sender")); err != nil {
		return nil, err
	}
	if m.moderationRejections, err = meter.Int64Counter("moderation_rejections",
		metric.WithDescription("User messages rejected by moderation")); err != nil {
		return nil, err
	}
	if m.generationFailures, err = meter.Int64Counter("generation_failures",
		metric.WithDescription("Generative or moderation calls that failed, labelled by operation")); err != nil {
		return nil, err
	}
	if m.activeConnections, err = meter.Int64UpDownCounter("realtime_connections",
		metric.WithDescription("Open realtime connections")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNopMetrics returns metrics bound to a no-op meter
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *Metrics) SurveyResponseAccepted(ctx context.Context) {
	if m == nil {
		return
	}
	m.surveyResponses.Add(ctx, 1)
}

func (m *Metrics) SurveyReady(ctx context.Context) {
	if m == nil {
		return
	}
	m.surveysReady.Add(ctx, 1)
}

func (m *Metrics) PersonaSynthesized(ctx context.Context, fallback bool) {
	if m == nil {
		return
	}
	m.personasSynthesized.Add(ctx, 1, metric.WithAttributes(attribute.Bool("fallback", fallback)))
}

func (m *Metrics) ChatMessage(ctx context.Context, sender string) {
	if m == nil {
		return
	}
	m.chatMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("sender", sender)))
}

func (m *Metrics) ModerationRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.moderationRejections.Add(ctx, 1)
}

func (m *Metrics) GenerationFailed(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.generationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeConnections.Add(ctx, -1)
}
