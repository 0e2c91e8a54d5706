// Package ai talks to the generative model: persona synthesis, in-character replies
// and content moderation all run as eino chains on one chat model.
package ai

import (
	"context"
	"fmt"
	"strings"

	"persona-ritual/backend/internal/models"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/pkg/resilience"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EmptyReply is used when the model answers with no content
const EmptyReply = "Hmm... I seem to have lost my train of thought."

const (
	chatTemperature = 0.7
	chatMaxTokens   = 200
)

// Options tunes the client. Zero values fall back to sane defaults.
type Options struct {
	Logger      *logger.Logger
	Breaker     *resilience.CircuitBreaker
	Tracer      trace.Tracer
	Temperature float64
	MaxTokens   int
}

// Client implements persona generation, chat replies and moderation on an eino chat model
type Client struct {
	single  compose.Runnable[map[string]any, *schema.Message]
	chat    compose.Runnable[map[string]any, *schema.Message]
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
	log     *logger.Logger

	temperature float32
	maxTokens   int
}

// NewClient compiles the prompt chains on top of chatModel
func NewClient(ctx context.Context, chatModel model.ChatModel, opts Options) (*Client, error) {
	if chatModel == nil {
		return nil, ErrUnavailable
	}

	single, err := compileChain(ctx, chatModel, prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to compile prompt chain: %w", err)
	}

	chat, err := compileChain(ctx, chatModel, prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(resilience.DefaultConfig("ai"), opts.Logger)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("persona-ritual/ai")
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.8
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}

	return &Client{
		single:      single,
		chat:        chat,
		breaker:     opts.Breaker,
		tracer:      opts.Tracer,
		log:         opts.Logger,
		temperature: float32(opts.Temperature),
		maxTokens:   opts.MaxTokens,
	}, nil
}

func compileChain(ctx context.Context, chatModel model.ChatModel, tpl prompt.ChatTemplate) (compose.Runnable[map[string]any, *schema.Message], error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// Breaker exposes the circuit breaker guarding the model
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// GeneratePersona asks the model for a persona descriptor
func (c *Client) GeneratePersona(ctx context.Context, req PersonaRequest) (*PersonaDescriptor, error) {
	ctx, span := c.tracer.Start(ctx, "ai.GeneratePersona", trace.WithAttributes(
		attribute.String("persona.mode", string(req.Mode)),
		attribute.Int("persona.impressions", len(req.Impressions)),
	))
	defer span.End()

	input := map[string]any{
		"system": personaSystemPrompt,
		"query":  BuildPersonaPrompt(req),
	}

	msg, err := c.invoke(ctx, c.single, input,
		model.WithTemperature(c.temperature),
		model.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return nil, fail(span, err)
	}

	descriptor, err := ParsePersona(msg.Content, req)
	if err != nil {
		c.log.Warn("Persona output could not be parsed", "error", err.Error())
		return nil, fail(span, err)
	}

	span.SetAttributes(
		attribute.String("persona.archetype", descriptor.Archetype),
		attribute.String("persona.rarity", descriptor.Rarity),
	)
	return descriptor, nil
}

// GenerateReply produces the persona's next line in the conversation
func (c *Client) GenerateReply(ctx context.Context, req ChatRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ai.GenerateReply", trace.WithAttributes(
		attribute.Int("chat.history", len(req.History)),
	))
	defer span.End()

	input := map[string]any{
		"system":  BuildChatSystemPrompt(req.PersonaName, req.SystemPrompt),
		"history": historyMessages(req.History),
		"query":   req.UserMessage,
	}

	msg, err := c.invoke(ctx, c.chat, input,
		model.WithTemperature(chatTemperature),
		model.WithMaxTokens(chatMaxTokens),
	)
	if err != nil {
		return "", fail(span, err)
	}

	reply := strings.TrimSpace(msg.Content)
	if reply == "" {
		return EmptyReply, nil
	}
	return reply, nil
}

// Moderate classifies user content before it reaches the persona
func (c *Client) Moderate(ctx context.Context, text string) (ModerationResult, error) {
	ctx, span := c.tracer.Start(ctx, "ai.Moderate")
	defer span.End()

	input := map[string]any{
		"system": moderationSystemPrompt,
		"query":  BuildModerationPrompt(text),
	}

	msg, err := c.invoke(ctx, c.single, input, model.WithTemperature(0))
	if err != nil {
		return ModerationResult{}, fail(span, err)
	}

	result, err := ParseModeration(msg.Content)
	if err != nil {
		return ModerationResult{}, fail(span, err)
	}
	span.SetAttributes(attribute.Bool("moderation.safe", result.Safe))
	return result, nil
}

func (c *Client) invoke(ctx context.Context, r compose.Runnable[map[string]any, *schema.Message], input map[string]any, opts ...model.Option) (*schema.Message, error) {
	var msg *schema.Message
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		out, err := r.Invoke(ctx, input, compose.WithChatModelOption(opts...))
		if err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("%w: nil message", ErrMalformedOutput)
		}
		msg = out
		return nil
	})
	return msg, err
}

func historyMessages(history []models.ChatMessage) []*schema.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Sender {
		case models.SenderUser:
			out = append(out, schema.UserMessage(m.Content))
		case models.SenderAI:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Disabled stands in for the client when no model is configured.
// Every call fails with ErrUnavailable so the failure policies decide the outcome.
type Disabled struct{}

func (Disabled) GeneratePersona(context.Context, PersonaRequest) (*PersonaDescriptor, error) {
	return nil, ErrUnavailable
}

func (Disabled) GenerateReply(context.Context, ChatRequest) (string, error) {
	return "", ErrUnavailable
}

func (Disabled) Moderate(context.Context, string) (ModerationResult, error) {
	return ModerationResult{}, ErrUnavailable
}
