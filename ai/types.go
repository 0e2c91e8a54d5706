package ai

import (
	"errors"

	"persona-ritual/backend/internal/models"
)

var (
	// ErrUnavailable is returned when no generative model is configured
	ErrUnavailable = errors.New("generative model unavailable")
	// ErrMalformedOutput is returned when the model answer cannot be used
	ErrMalformedOutput = errors.New("malformed model output")
)

// Answer is one question and the respondent's answer rendered as text
type Answer struct {
	Question string
	Value    string
}

// Impression is the full set of answers from one anonymous respondent
type Impression struct {
	Answers []Answer
}

// PersonaRequest carries everything the generator needs to invent a persona
type PersonaRequest struct {
	Impressions []Impression
	Mode        models.SynthesisMode
	// Archetype is honoured only in ALCHEMIC mode
	Archetype string
}

// PersonaDescriptor is the generated persona before it is stored
type PersonaDescriptor struct {
	Name         string              `json:"name"`
	Archetype    string              `json:"archetype"`
	Stats        models.PersonaStats `json:"stats"`
	SystemPrompt string              `json:"systemPrompt"`
	Greeting     string              `json:"greeting"`
	Rarity       string              `json:"rarity"`
}

// ChatRequest is the context for one in-character reply
type ChatRequest struct {
	PersonaName  string
	SystemPrompt string
	// History holds prior messages oldest first
	History     []models.ChatMessage
	UserMessage string
}

// ModerationResult is the classifier verdict for a piece of user content
type ModerationResult struct {
	Safe   bool
	Reason string
}
