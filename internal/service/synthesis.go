package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/internal/models"
	"persona-ritual/backend/internal/repository"
	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/shared/observability"

	"github.com/google/uuid"
)

// PersonaGenerator invents a persona from survey impressions
type PersonaGenerator interface {
	GeneratePersona(ctx context.Context, req ai.PersonaRequest) (*ai.PersonaDescriptor, error)
}

// Modifiers narrow synthesis in ALCHEMIC mode
type Modifiers struct {
	Archetype string `json:"archetype"`
}

// SynthesizeInput is the owner's request to turn a survey into a persona
type SynthesizeInput struct {
	SurveyID  string               `json:"surveyId"`
	Mode      models.SynthesisMode `json:"mode"`
	Modifiers *Modifiers           `json:"modifiers,omitempty"`
}

var synthesizable = []models.SurveyStatus{models.SurveyCollecting, models.SurveyReady}

// SynthesisEngine turns collected impressions into a stored persona
type SynthesisEngine struct {
	surveys   repository.SurveyRepository
	personas  repository.PersonaRepository
	generator PersonaGenerator
	onFailure OnGenerationFailure
	timeout   time.Duration
	metrics   *observability.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewSynthesisEngine creates a synthesis engine. A nil policy means FallbackOnGenerationFailure.
func NewSynthesisEngine(
	surveys repository.SurveyRepository,
	personas repository.PersonaRepository,
	generator PersonaGenerator,
	onFailure OnGenerationFailure,
	timeout time.Duration,
	metrics *observability.Metrics,
	log *logger.Logger,
) *SynthesisEngine {
	if onFailure == nil {
		onFailure = FallbackOnGenerationFailure{}
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &SynthesisEngine{
		surveys:   surveys,
		personas:  personas,
		generator: generator,
		onFailure: onFailure,
		timeout:   timeout,
		metrics:   metrics,
		log:       log.With("component", "synthesis"),
		now:       time.Now,
	}
}

// Synthesize generates a persona from the owner's survey and completes the survey
func (e *SynthesisEngine) Synthesize(ctx context.Context, ownerID string, in SynthesizeInput) (*PersonaView, error) {
	req, err := validateSynthesis(in)
	if err != nil {
		return nil, err
	}

	survey, err := e.surveys.FindSurveyForOwner(ctx, in.SurveyID, ownerID)
	if err != nil {
		return nil, notFound(err, "Survey")
	}

	count, err := e.surveys.CountResponses(ctx, survey.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count responses: %w", err)
	}
	if count < int64(survey.MinResponses) {
		return nil, apperrors.InsufficientResponses(int64(survey.MinResponses), count)
	}
	if !slices.Contains(synthesizable, survey.Status) {
		return nil, apperrors.InvalidState("Survey is not in a valid state for synthesis")
	}

	responses, err := e.surveys.ListResponses(ctx, survey.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load responses: %w", err)
	}
	for _, r := range responses {
		req.Impressions = append(req.Impressions, impressionFromAnswers(r.Answers))
	}

	descriptor, fallback, err := e.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	persona := &models.Persona{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		SurveyID:     &survey.ID,
		Name:         descriptor.Name,
		Archetype:    descriptor.Archetype,
		Stats:        descriptor.Stats.Clamp(),
		SystemPrompt: descriptor.SystemPrompt,
		Greeting:     descriptor.Greeting,
		Rarity:       descriptor.Rarity,
		BondLevel:    0,
		CreatedAt:    e.now().UTC(),
	}

	if err := e.personas.CompleteSynthesis(ctx, persona, synthesizable); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.InvalidState("Survey is not in a valid state for synthesis")
		}
		return nil, fmt.Errorf("failed to store persona: %w", err)
	}

	e.metrics.PersonaSynthesized(ctx, fallback)
	e.log.Info("Persona synthesized",
		"persona_id", persona.ID,
		"survey_id", survey.ID,
		"archetype", persona.Archetype,
		"fallback", fallback,
	)

	view := newPersonaView(persona)
	return &view, nil
}

// generate calls the generator under the configured timeout and applies the failure policy
func (e *SynthesisEngine) generate(ctx context.Context, req ai.PersonaRequest) (*ai.PersonaDescriptor, bool, error) {
	callCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	descriptor, err := e.generator.GeneratePersona(callCtx, req)
	if err == nil && descriptor != nil {
		descriptor.Archetype = ai.NormalizeArchetype(descriptor.Archetype, req)
		descriptor.Rarity = ai.NormalizeRarity(descriptor.Rarity)
		return descriptor, false, nil
	}
	if err == nil {
		err = ai.ErrMalformedOutput
	}

	e.metrics.GenerationFailed(ctx, "persona")
	e.log.Warn("Persona generation failed, applying policy", "error", err.Error())

	descriptor, perr := e.onFailure.Persona(ctx, err)
	if perr != nil {
		return nil, false, perr
	}
	descriptor.Archetype = ai.NormalizeArchetype(descriptor.Archetype, req)
	return descriptor, true, nil
}

// ListPersonas returns the owner's personas, newest first
func (e *SynthesisEngine) ListPersonas(ctx context.Context, ownerID string) ([]PersonaView, error) {
	personas, err := e.personas.ListPersonasByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}

	views := make([]PersonaView, 0, len(personas))
	for i := range personas {
		views = append(views, newPersonaView(&personas[i]))
	}
	return views, nil
}

// GetPersona returns one of the owner's personas with its private fields
func (e *SynthesisEngine) GetPersona(ctx context.Context, id, ownerID string) (*PersonaDetailView, error) {
	persona, err := e.personas.FindPersonaForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, notFound(err, "Persona")
	}

	return &PersonaDetailView{
		PersonaView:  newPersonaView(persona),
		SystemPrompt: persona.SystemPrompt,
		SurveyID:     persona.SurveyID,
	}, nil
}

func validateSynthesis(in SynthesizeInput) (ai.PersonaRequest, error) {
	if strings.TrimSpace(in.SurveyID) == "" {
		return ai.PersonaRequest{}, apperrors.Validation("surveyId is required")
	}

	req := ai.PersonaRequest{Mode: in.Mode}
	switch in.Mode {
	case models.ModeFated:
	case models.ModeAlchemic:
		if in.Modifiers == nil || strings.TrimSpace(in.Modifiers.Archetype) == "" {
			return req, apperrors.Validation("ALCHEMIC synthesis requires modifiers.archetype")
		}
		archetype := strings.ToUpper(strings.TrimSpace(in.Modifiers.Archetype))
		if !slices.Contains(models.Archetypes, archetype) {
			return req, apperrors.Validation("Unknown archetype " + in.Modifiers.Archetype)
		}
		req.Archetype = archetype
	default:
		return req, apperrors.Validation("mode must be FATED or ALCHEMIC")
	}
	return req, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
