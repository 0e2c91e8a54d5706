package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/internal/models"
	"persona-ritual/backend/internal/repository"
	"persona-ritual/backend/pkg/logger"

	"github.com/stretchr/testify/require"
)

// fakeAI scripts the generator and moderator and records what they were asked
type fakeAI struct {
	mu sync.Mutex

	persona    func(ctx context.Context, req ai.PersonaRequest) (*ai.PersonaDescriptor, error)
	reply      func(ctx context.Context, req ai.ChatRequest) (string, error)
	moderation func(ctx context.Context, text string) (ai.ModerationResult, error)

	personaCalls []ai.PersonaRequest
	chatCalls    []ai.ChatRequest
}

func (f *fakeAI) GeneratePersona(ctx context.Context, req ai.PersonaRequest) (*ai.PersonaDescriptor, error) {
	f.mu.Lock()
	f.personaCalls = append(f.personaCalls, req)
	fn := f.persona
	f.mu.Unlock()

	if fn == nil {
		return &ai.PersonaDescriptor{
			Name:         "Vesper",
			Archetype:    "SAGE",
			Stats:        models.PersonaStats{Charisma: 70, Intellect: 80, Kindness: 60, Energy: 40},
			SystemPrompt: "You are calm and wise.",
			Greeting:     "Welcome back.",
			Rarity:       "RARE",
		}, nil
	}
	return fn(ctx, req)
}

func (f *fakeAI) GenerateReply(ctx context.Context, req ai.ChatRequest) (string, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, req)
	fn := f.reply
	f.mu.Unlock()

	if fn == nil {
		return "hi there", nil
	}
	return fn(ctx, req)
}

func (f *fakeAI) Moderate(ctx context.Context, text string) (ai.ModerationResult, error) {
	f.mu.Lock()
	fn := f.moderation
	f.mu.Unlock()

	if fn == nil {
		return ai.ModerationResult{Safe: true}, nil
	}
	return fn(ctx, text)
}

func (f *fakeAI) lastChat() ai.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls[len(f.chatCalls)-1]
}

// stepClock returns strictly increasing times one second apart
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	store     *repository.MemoryStore
	ai        *fakeAI
	surveys   *SurveyEngine
	synthesis *SynthesisEngine
	chat      *ChatEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	fake := &fakeAI{}
	log := logger.NewNop()

	f := &fixture{
		store: store,
		ai:    fake,
		surveys: NewSurveyEngine(store, SurveyConfig{
			DefaultMinResponses:  3,
			TTL:                  24 * time.Hour,
			FrontendURL:          "https://ritual.example",
			FingerprintMinLength: 4,
		}, nil, nil, log),
		synthesis: NewSynthesisEngine(store, store, fake, nil, time.Second, nil, log),
		chat: NewChatEngine(store, store, fake, fake, nil, nil, ChatConfig{
			HistoryLimit:      20,
			ContextWindow:     10,
			MaxContentLength:  200,
			GenerationTimeout: time.Second,
			ModerationTimeout: time.Second,
		}, nil, log),
	}

	clock := stepClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	f.surveys.now = clock
	f.synthesis.now = clock
	f.chat.now = clock
	return f
}

func answers(t *testing.T, word string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"q1": word, "q2": "The Sage", "q3": 7})
	require.NoError(t, err)
	return raw
}

// readySurvey creates a survey with minResponses submissions already in
func (f *fixture) readySurvey(t *testing.T, owner string, minResponses int) *SurveyView {
	t.Helper()
	ctx := context.Background()

	survey, err := f.surveys.CreateSurvey(ctx, owner, CreateSurveyInput{MinResponses: &minResponses})
	require.NoError(t, err)
	for i := 0; i < minResponses; i++ {
		require.NoError(t, f.surveys.SubmitResponse(ctx, survey.ID, SubmitResponseInput{
			Answers:         answers(t, fmt.Sprintf("word-%d", i)),
			FingerprintHash: fmt.Sprintf("device-%d", i),
		}))
	}
	return survey
}

// persona synthesizes a persona for owner
func (f *fixture) persona(t *testing.T, owner string) *PersonaView {
	t.Helper()
	survey := f.readySurvey(t, owner, 1)
	p, err := f.synthesis.Synthesize(context.Background(), owner, SynthesizeInput{
		SurveyID: survey.ID,
		Mode:     models.ModeFated,
	})
	require.NoError(t, err)
	return p
}
