package service

import (
	"context"
	"fmt"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/internal/models"
	apperrors "persona-ritual/backend/pkg/errors"
)

// FailureReply is the AI message stored when a reply cannot be generated
const FailureReply = "I need a moment to gather my thoughts..."

// FallbackPersona is the persona stored when synthesis cannot reach the generator
func FallbackPersona() *ai.PersonaDescriptor {
	return &ai.PersonaDescriptor{
		Name:         "Mysterious Stranger",
		Archetype:    "MYSTIC",
		Stats:        models.PersonaStats{Charisma: 50, Intellect: 50, Kindness: 50, Energy: 50},
		SystemPrompt: "You are a mysterious and thoughtful individual who speaks with wisdom.",
		Greeting:     "We meet at last... I have been expecting you.",
		Rarity:       "COMMON",
	}
}

// OnGenerationFailure decides what happens when the generator errors or times out.
// err is the original failure, so implementations can tell context.DeadlineExceeded apart.
type OnGenerationFailure interface {
	Persona(ctx context.Context, err error) (*ai.PersonaDescriptor, error)
	Reply(ctx context.Context, err error) (string, error)
}

// OnModerationFailure decides the verdict when the moderator errors or times out
type OnModerationFailure interface {
	Verdict(ctx context.Context, err error) (ai.ModerationResult, error)
}

// FallbackOnGenerationFailure substitutes fixed content so the operation still succeeds
type FallbackOnGenerationFailure struct{}

func (FallbackOnGenerationFailure) Persona(context.Context, error) (*ai.PersonaDescriptor, error) {
	return FallbackPersona(), nil
}

func (FallbackOnGenerationFailure) Reply(context.Context, error) (string, error) {
	return FailureReply, nil
}

// RejectOnGenerationFailure surfaces the failure to the caller
type RejectOnGenerationFailure struct{}

func (RejectOnGenerationFailure) Persona(_ context.Context, err error) (*ai.PersonaDescriptor, error) {
	return nil, generationUnavailable(err)
}

func (RejectOnGenerationFailure) Reply(_ context.Context, err error) (string, error) {
	return "", generationUnavailable(err)
}

func generationUnavailable(err error) *apperrors.AppError {
	return apperrors.NewServiceUnavailableError(apperrors.CodeGenerationUnavailable,
		"The persona generator is unavailable, try again later").WithCause(err)
}

// AllowOnModerationFailure lets content through when moderation is unavailable
type AllowOnModerationFailure struct{}

func (AllowOnModerationFailure) Verdict(context.Context, error) (ai.ModerationResult, error) {
	return ai.ModerationResult{Safe: true}, nil
}

// RejectOnModerationFailure refuses content that could not be checked
type RejectOnModerationFailure struct{}

func (RejectOnModerationFailure) Verdict(_ context.Context, err error) (ai.ModerationResult, error) {
	return ai.ModerationResult{}, apperrors.NewServiceUnavailableError(apperrors.CodeModerationUnavailable,
		"Message could not be checked, try again later").WithCause(err)
}

// GenerationPolicy resolves the configured generation failure policy
func GenerationPolicy(name string) (OnGenerationFailure, error) {
	switch name {
	case "", "fallback":
		return FallbackOnGenerationFailure{}, nil
	case "reject":
		return RejectOnGenerationFailure{}, nil
	}
	return nil, fmt.Errorf("unknown generation failure policy %q", name)
}

// ModerationPolicy resolves the configured moderation failure policy
func ModerationPolicy(name string) (OnModerationFailure, error) {
	switch name {
	case "", "allow":
		return AllowOnModerationFailure{}, nil
	case "reject":
		return RejectOnModerationFailure{}, nil
	}
	return nil, fmt.Errorf("unknown moderation failure policy %q", name)
}
