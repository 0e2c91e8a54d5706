package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"persona-ritual/backend/internal/models"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/pkg/resilience"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModel is a scripted eino chat model that records what it was asked
type fakeModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	inputs  [][]*schema.Message
	options []*model.Options
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, input)
	f.options = append(f.options, model.GetCommonOptions(&model.Options{}, opts...))
	if f.err != nil {
		return nil, f.err
	}
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

func (f *fakeModel) lastInput() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

func newTestClient(t *testing.T, fm *fakeModel) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), fm, Options{Logger: logger.NewNop()})
	require.NoError(t, err)
	return client
}

func TestGeneratePersona(t *testing.T) {
	fm := &fakeModel{replies: []string{"```json\n" + `{
		"name": "Ember Vale",
		"archetype": "rebel",
		"stats": {"charisma": 88.6, "intellect": 140, "kindness": -3, "energy": 70},
		"systemPrompt": "You are fierce and loyal.",
		"greeting": "Finally, someone worth talking to.",
		"rarity": "epic"
	}` + "\n```"}}
	client := newTestClient(t, fm)

	req := PersonaRequest{
		Mode: models.ModeFated,
		Impressions: []Impression{
			{Answers: []Answer{{Question: "What is one word that describes this person?", Value: "bold"}}},
		},
	}
	p, err := client.GeneratePersona(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Ember Vale", p.Name)
	assert.Equal(t, "REBEL", p.Archetype)
	assert.Equal(t, "EPIC", p.Rarity)
	assert.Equal(t, models.PersonaStats{Charisma: 89, Intellect: 100, Kindness: 0, Energy: 70}, p.Stats)

	input := fm.lastInput()
	require.Len(t, input, 2)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Equal(t, personaSystemPrompt, input[0].Content)
	assert.Contains(t, input[1].Content, "A: bold")
	assert.Contains(t, input[1].Content, "Mode: FATED")
}

func TestGeneratePersonaAlchemicKeepsArchetype(t *testing.T) {
	fm := &fakeModel{replies: []string{`{"name":"Quill","archetype":"SAGE","systemPrompt":"Soft spoken.","rarity":"RARE"}`}}
	client := newTestClient(t, fm)

	p, err := client.GeneratePersona(context.Background(), PersonaRequest{
		Mode:      models.ModeAlchemic,
		Archetype: "artist",
	})
	require.NoError(t, err)
	assert.Equal(t, "ARTIST", p.Archetype)
	assert.Contains(t, fm.lastInput()[1].Content, "Selected Archetype: artist")
}

func TestGeneratePersonaMalformed(t *testing.T) {
	fm := &fakeModel{replies: []string{"I would rather not."}}
	client := newTestClient(t, fm)

	_, err := client.GeneratePersona(context.Background(), PersonaRequest{Mode: models.ModeFated})
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestGenerateReplyBuildsContext(t *testing.T) {
	fm := &fakeModel{replies: []string{"  The stars told me you'd come.  "}}
	client := newTestClient(t, fm)

	history := []models.ChatMessage{
		{Sender: models.SenderUser, Content: "hi"},
		{Sender: models.SenderAI, Content: "hello traveler"},
	}
	reply, err := client.GenerateReply(context.Background(), ChatRequest{
		PersonaName:  "Vesper",
		SystemPrompt: "You speak in riddles.",
		History:      history,
		UserMessage:  "what is {this}?",
	})
	require.NoError(t, err)
	assert.Equal(t, "The stars told me you'd come.", reply)

	input := fm.lastInput()
	require.Len(t, input, 4)
	assert.Equal(t, schema.System, input[0].Role)
	assert.Contains(t, input[0].Content, "You are Vesper. You speak in riddles.")
	assert.Contains(t, input[0].Content, "Stay in character at all times")
	assert.Equal(t, schema.User, input[1].Role)
	assert.Equal(t, schema.Assistant, input[2].Role)
	assert.Equal(t, schema.User, input[3].Role)
	assert.Equal(t, "what is {this}?", input[3].Content)

	opts := fm.options[len(fm.options)-1]
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, chatTemperature, *opts.Temperature, 0.001)
}

func TestGenerateReplyEmptyCompletion(t *testing.T) {
	fm := &fakeModel{replies: []string{"   "}}
	client := newTestClient(t, fm)

	reply, err := client.GenerateReply(context.Background(), ChatRequest{PersonaName: "Vesper", UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply)
}

func TestModerate(t *testing.T) {
	fm := &fakeModel{replies: []string{
		`{"flagged": false, "categories": []}`,
		`Result: {"flagged": true, "categories": ["harassment", "hate"]}`,
	}}
	client := newTestClient(t, fm)
	ctx := context.Background()

	ok, err := client.Moderate(ctx, "good morning")
	require.NoError(t, err)
	assert.True(t, ok.Safe)

	flagged, err := client.Moderate(ctx, "something nasty")
	require.NoError(t, err)
	assert.False(t, flagged.Safe)
	assert.Equal(t, "Flagged: harassment, hate", flagged.Reason)
	assert.Contains(t, fm.lastInput()[1].Content, "something nasty")
}

func TestModelFailuresOpenBreaker(t *testing.T) {
	errDown := errors.New("upstream down")
	fm := &fakeModel{err: errDown}
	breaker := resilience.NewCircuitBreaker(resilience.Config{
		Name:             "ai",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RetryTimeout:     time.Hour,
	}, logger.NewNop())
	client, err := NewClient(context.Background(), fm, Options{Logger: logger.NewNop(), Breaker: breaker})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GenerateReply(ctx, ChatRequest{UserMessage: "a"})
	assert.ErrorIs(t, err, errDown)
	_, err = client.Moderate(ctx, "b")
	assert.ErrorIs(t, err, errDown)

	_, err = client.GeneratePersona(ctx, PersonaRequest{Mode: models.ModeFated})
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, resilience.StateOpen, client.Breaker().State())
}

func TestDisabledClient(t *testing.T) {
	var d Disabled
	ctx := context.Background()

	_, err := d.GeneratePersona(ctx, PersonaRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = d.GenerateReply(ctx, ChatRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = d.Moderate(ctx, "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewClient(ctx, nil, Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
