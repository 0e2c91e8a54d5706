package models

import "time"

// Sender identifies who wrote a chat message
type Sender string

const (
	SenderUser Sender = "USER"
	SenderAI   Sender = "AI"
)

// ChatSession is the single conversation between an owner and one of their personas
type ChatSession struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	OwnerID       string    `json:"userId" gorm:"size:64;not null;uniqueIndex:ux_session_owner_persona,priority:1"`
	PersonaID     string    `json:"personaId" gorm:"size:36;not null;uniqueIndex:ux_session_owner_persona,priority:2"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessageAt time.Time `json:"lastMsgAt" gorm:"index"`

	Persona *Persona `json:"-" gorm:"foreignKey:PersonaID"`
}

// ChatMessage is an append-only entry in a session, ordered by CreatedAt
type ChatMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	SessionID string    `json:"sessionId" gorm:"size:36;not null;index:idx_messages_session_created,priority:1"`
	Sender    Sender    `json:"sender" gorm:"size:8;not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_messages_session_created,priority:2"`
}

// All returns every model managed by the store, in migration order
func All() []any {
	return []any{&Survey{}, &SurveyResponse{}, &Persona{}, &ChatSession{}, &ChatMessage{}}
}
