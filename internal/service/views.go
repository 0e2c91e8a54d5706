package service

import (
	"time"

	"persona-ritual/backend/internal/models"
)

// SurveyView is what the owner sees of a survey
type SurveyView struct {
	ID            string              `json:"id"`
	UserID        string              `json:"userId"`
	Status        models.SurveyStatus `json:"status"`
	Title         *string             `json:"title,omitempty"`
	ShareableLink string              `json:"shareableLink"`
	MinResponses  int                 `json:"minResponses"`
	ResponseCount int64               `json:"responseCount"`
	CreatedAt     time.Time           `json:"createdAt"`
	ExpiresAt     time.Time           `json:"expiresAt"`
}

// PublicSurveyView is what anonymous respondents see
type PublicSurveyView struct {
	ID        string     `json:"id"`
	Title     *string    `json:"title,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Questions []Question `json:"questions"`
}

// SurveyStatusView is the owner's progress view of a survey
type SurveyStatusView struct {
	ID               string              `json:"id"`
	Status           models.SurveyStatus `json:"status"`
	ResponsesCount   int64               `json:"responsesCount"`
	CanCreatePersona bool                `json:"canCreatePersona"`
	Threshold        int                 `json:"threshold"`
}

// PersonaView is the list and synthesis view of a persona
type PersonaView struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Archetype string              `json:"archetype"`
	Rarity    string              `json:"rarity"`
	Stats     models.PersonaStats `json:"stats"`
	Greeting  string              `json:"greeting,omitempty"`
	BondLevel int                 `json:"bondLevel"`
	CreatedAt time.Time           `json:"createdAt"`
}

// PersonaDetailView adds the private fields shown to the owner on a single persona
type PersonaDetailView struct {
	PersonaView
	SystemPrompt string  `json:"systemPrompt"`
	SurveyID     *string `json:"surveyId,omitempty"`
}

// SessionView is a chat session with its persona name
type SessionView struct {
	ID          string    `json:"id"`
	PersonaID   string    `json:"personaId"`
	PersonaName string    `json:"personaName"`
	StartedAt   time.Time `json:"startedAt"`
	LastMsgAt   time.Time `json:"lastMsgAt"`
}

// MessageView is a single chat message
type MessageView struct {
	ID        string        `json:"id"`
	Sender    models.Sender `json:"sender"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ExchangeView is the result of sending a message: the stored user message and its reply
type ExchangeView struct {
	UserMessage MessageView `json:"userMessage"`
	AIMessage   MessageView `json:"aiMessage"`
}

func newPersonaView(p *models.Persona) PersonaView {
	return PersonaView{
		ID:        p.ID,
		Name:      p.Name,
		Archetype: p.Archetype,
		Rarity:    p.Rarity,
		Stats:     p.Stats,
		Greeting:  p.Greeting,
		BondLevel: p.BondLevel,
		CreatedAt: p.CreatedAt,
	}
}

func newSessionView(s *models.ChatSession, personaName string) SessionView {
	return SessionView{
		ID:          s.ID,
		PersonaID:   s.PersonaID,
		PersonaName: personaName,
		StartedAt:   s.StartedAt,
		LastMsgAt:   s.LastMessageAt,
	}
}

func newMessageView(m *models.ChatMessage) MessageView {
	return MessageView{
		ID:        m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
