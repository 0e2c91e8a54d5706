package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/internal/models"
	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSynthesizeCompletesSurvey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	survey := f.readySurvey(t, "owner-1", 3)

	persona, err := f.synthesis.Synthesize(ctx, "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	require.NoError(t, err)

	assert.Equal(t, "Vesper", persona.Name)
	assert.Equal(t, "SAGE", persona.Archetype)
	assert.Equal(t, "RARE", persona.Rarity)
	assert.Equal(t, 0, persona.BondLevel)

	require.Len(t, f.ai.personaCalls, 1)
	assert.Len(t, f.ai.personaCalls[0].Impressions, 3)
	assert.Equal(t, models.ModeFated, f.ai.personaCalls[0].Mode)

	status, err := f.surveys.GetSurveyStatus(ctx, survey.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.SurveyCompleted, status.Status)

	_, err = f.synthesis.Synthesize(ctx, "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	personas, err := f.synthesis.ListPersonas(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, personas, 1)
}

func TestSynthesizeInsufficientResponses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	survey, err := f.surveys.CreateSurvey(ctx, "owner-1", CreateSurveyInput{})
	require.NoError(t, err)
	require.NoError(t, f.surveys.SubmitResponse(ctx, survey.ID, SubmitResponseInput{Answers: answers(t, "a"), FingerprintHash: "device-a"}))

	_, err = f.synthesis.Synthesize(ctx, "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientResponses))

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, 422, appErr.StatusCode)

	assert.Empty(t, f.ai.personaCalls)
	personas, err := f.synthesis.ListPersonas(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, personas)

	status, err := f.surveys.GetSurveyStatus(ctx, survey.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.SurveyCollecting, status.Status)
}

func TestSynthesizeIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	survey := f.readySurvey(t, "owner-1", 1)

	_, err := f.synthesis.Synthesize(context.Background(), "owner-2", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestSynthesizeValidation(t *testing.T) {
	f := newFixture(t)
	survey := f.readySurvey(t, "owner-1", 1)
	ctx := context.Background()

	cases := map[string]SynthesizeInput{
		"missing survey":       {Mode: models.ModeFated},
		"unknown mode":         {SurveyID: survey.ID, Mode: "RANDOM"},
		"alchemic no modifier": {SurveyID: survey.ID, Mode: models.ModeAlchemic},
		"alchemic bad archetype": {
			SurveyID:  survey.ID,
			Mode:      models.ModeAlchemic,
			Modifiers: &Modifiers{Archetype: "WIZARD"},
		},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.synthesis.Synthesize(ctx, "owner-1", in)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
		})
	}
}

func TestSynthesizeAlchemicForcesArchetype(t *testing.T) {
	f := newFixture(t)
	survey := f.readySurvey(t, "owner-1", 1)

	persona, err := f.synthesis.Synthesize(context.Background(), "owner-1", SynthesizeInput{
		SurveyID:  survey.ID,
		Mode:      models.ModeAlchemic,
		Modifiers: &Modifiers{Archetype: "rebel"},
	})
	require.NoError(t, err)
	assert.Equal(t, "REBEL", persona.Archetype)
	assert.Equal(t, "REBEL", f.ai.personaCalls[0].Archetype)
}

func TestSynthesizeFallsBackOnGeneratorError(t *testing.T) {
	f := newFixture(t)
	f.ai.persona = func(context.Context, ai.PersonaRequest) (*ai.PersonaDescriptor, error) {
		return nil, ai.ErrUnavailable
	}
	survey := f.readySurvey(t, "owner-1", 1)

	persona, err := f.synthesis.Synthesize(context.Background(), "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	require.NoError(t, err)
	assert.Equal(t, "Mysterious Stranger", persona.Name)
	assert.Equal(t, "MYSTIC", persona.Archetype)
	assert.Equal(t, models.PersonaStats{Charisma: 50, Intellect: 50, Kindness: 50, Energy: 50}, persona.Stats)

	status, err := f.surveys.GetSurveyStatus(context.Background(), survey.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.SurveyCompleted, status.Status)
}

func TestSynthesizeFallbackKeepsAlchemicArchetype(t *testing.T) {
	f := newFixture(t)
	f.ai.persona = func(context.Context, ai.PersonaRequest) (*ai.PersonaDescriptor, error) {
		return nil, ai.ErrMalformedOutput
	}
	survey := f.readySurvey(t, "owner-1", 1)

	persona, err := f.synthesis.Synthesize(context.Background(), "owner-1", SynthesizeInput{
		SurveyID:  survey.ID,
		Mode:      models.ModeAlchemic,
		Modifiers: &Modifiers{Archetype: "PROTECTOR"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PROTECTOR", persona.Archetype)
}

type recordingPolicy struct {
	FallbackOnGenerationFailure
	mu   sync.Mutex
	errs []error
}

func (p *recordingPolicy) Persona(ctx context.Context, err error) (*ai.PersonaDescriptor, error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
	return p.FallbackOnGenerationFailure.Persona(ctx, err)
}

func TestSynthesizeTimeoutAppliesPolicy(t *testing.T) {
	f := newFixture(t)
	policy := &recordingPolicy{}
	f.synthesis = NewSynthesisEngine(f.store, f.store, f.ai, policy, 20*time.Millisecond, nil, logger.NewNop())
	f.ai.persona = func(ctx context.Context, _ ai.PersonaRequest) (*ai.PersonaDescriptor, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	survey := f.readySurvey(t, "owner-1", 1)

	persona, err := f.synthesis.Synthesize(context.Background(), "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	require.NoError(t, err)
	assert.Equal(t, "Mysterious Stranger", persona.Name)

	require.Len(t, policy.errs, 1)
	assert.True(t, errors.Is(policy.errs[0], context.DeadlineExceeded))
}

func TestSynthesizeRejectPolicyLeavesSurveyOpen(t *testing.T) {
	f := newFixture(t)
	f.synthesis = NewSynthesisEngine(f.store, f.store, f.ai, RejectOnGenerationFailure{}, time.Second, nil, logger.NewNop())
	f.ai.persona = func(context.Context, ai.PersonaRequest) (*ai.PersonaDescriptor, error) {
		return nil, ai.ErrUnavailable
	}
	survey := f.readySurvey(t, "owner-1", 1)

	_, err := f.synthesis.Synthesize(context.Background(), "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGenerationUnavailable))
	assert.ErrorIs(t, err, ai.ErrUnavailable)

	status, err := f.surveys.GetSurveyStatus(context.Background(), survey.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, models.SurveyReady, status.Status)
}

func TestConcurrentSynthesisCreatesOnePersona(t *testing.T) {
	f := newFixture(t)
	survey := f.readySurvey(t, "owner-1", 2)
	ctx := context.Background()

	results := make([]error, 6)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			_, results[i] = f.synthesis.Synthesize(ctx, "owner-1", SynthesizeInput{SurveyID: survey.ID, Mode: models.ModeFated})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
	}
	assert.Equal(t, 1, succeeded)

	personas, err := f.synthesis.ListPersonas(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, personas, 1)
}

func TestGetPersona(t *testing.T) {
	f := newFixture(t)
	created := f.persona(t, "owner-1")
	ctx := context.Background()

	detail, err := f.synthesis.GetPersona(ctx, created.ID, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "You are calm and wise.", detail.SystemPrompt)
	require.NotNil(t, detail.SurveyID)

	_, err = f.synthesis.GetPersona(ctx, created.ID, "owner-2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}
