// Package repository is the record store behind the survey, synthesis and chat engines.
//
// Race safety comes from the store itself: InsertResponse and InsertSession rely on unique
// indexes and report ErrDuplicate, and status changes go through UpdateSurveyStatusIf,
// which only writes when the current status is one of the expected ones.
package repository

import (
	"context"
	"errors"
	"time"

	"persona-ritual/backend/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible to the caller
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned when a conditional write finds an unexpected state
	ErrConflict = errors.New("conflicting state")
)

// SurveyRepository stores surveys and their anonymous responses
type SurveyRepository interface {
	CreateSurvey(ctx context.Context, survey *models.Survey) error
	FindSurvey(ctx context.Context, id string) (*models.Survey, error)
	FindSurveyForOwner(ctx context.Context, id, ownerID string) (*models.Survey, error)
	// FindSurveyByIDOrToken resolves either a survey id or its shareable token
	FindSurveyByIDOrToken(ctx context.Context, idOrToken string) (*models.Survey, error)
	ListSurveysByOwner(ctx context.Context, ownerID string) ([]models.Survey, error)

	// InsertResponse returns ErrDuplicate when the (survey, fingerprint) pair already exists
	InsertResponse(ctx context.Context, response *models.SurveyResponse) error
	CountResponses(ctx context.Context, surveyID string) (int64, error)
	ListResponses(ctx context.Context, surveyID string) ([]models.SurveyResponse, error)

	// UpdateSurveyStatusIf moves the survey to `to` only if its status is one of `from`.
	// It reports whether this call performed the transition.
	UpdateSurveyStatusIf(ctx context.Context, id string, from []models.SurveyStatus, to models.SurveyStatus) (bool, error)
}

// PersonaRepository stores synthesized personas
type PersonaRepository interface {
	// CompleteSynthesis inserts the persona and moves its survey to COMPLETED in one unit.
	// It returns ErrConflict when the survey is no longer in one of `from`.
	CompleteSynthesis(ctx context.Context, persona *models.Persona, from []models.SurveyStatus) error
	FindPersonaForOwner(ctx context.Context, id, ownerID string) (*models.Persona, error)
	ListPersonasByOwner(ctx context.Context, ownerID string) ([]models.Persona, error)
	IncrementBondLevel(ctx context.Context, personaID string) error
}

// ChatRepository stores chat sessions and their messages
type ChatRepository interface {
	FindSessionByPair(ctx context.Context, ownerID, personaID string) (*models.ChatSession, error)
	// InsertSession returns ErrDuplicate when the (owner, persona) pair already has a session
	InsertSession(ctx context.Context, session *models.ChatSession) error
	// FindSessionForOwner loads the session with its persona
	FindSessionForOwner(ctx context.Context, id, ownerID string) (*models.ChatSession, error)
	// ListSessionsByOwner loads sessions with personas, most recently active first
	ListSessionsByOwner(ctx context.Context, ownerID string) ([]models.ChatSession, error)
	TouchSession(ctx context.Context, id string, at time.Time) error

	AppendMessage(ctx context.Context, message *models.ChatMessage) error
	// RecentMessages returns up to limit of the newest messages, oldest first
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error)
}

// Store is the full record store
type Store interface {
	SurveyRepository
	PersonaRepository
	ChatRepository

	Ping(ctx context.Context) error
}
