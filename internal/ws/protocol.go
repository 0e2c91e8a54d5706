package ws

import (
	"encoding/json"

	"persona-ritual/backend/internal/service"
	apperrors "persona-ritual/backend/pkg/errors"
)

// Event types spoken over the socket
const (
	EventConnected = "connected"
	EventAuth      = "chat:auth"
	EventJoin      = "chat:join"
	EventMessage   = "chat:message"
	EventResponse  = "chat:response"
	EventPing      = "ping"
	EventPong      = "pong"
	EventError     = "error"
)

// Envelope is the frame for every event in both directions.
// Replies to a client event carry the event type with an ":ack" suffix and echo its ID.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckType is the type of the reply to a client event
func AckType(event string) string {
	return event + ":ack"
}

// ErrorPayload is sent instead of an ack when an event fails. The connection stays open.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type connectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type authRequest struct {
	Token string `json:"token"`
}

type authAck struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
}

type joinRequest struct {
	PersonaID string `json:"personaId"`
}

type joinAck struct {
	Success bool                 `json:"success"`
	Session *service.SessionView `json:"session"`
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

type messageAck struct {
	Success     bool                `json:"success"`
	UserMessage service.MessageView `json:"userMessage"`
}

// ResponseEvent is broadcast to a session room when the persona replies
type ResponseEvent struct {
	SessionID string              `json:"sessionId"`
	Message   service.MessageView `json:"message"`
}

func encode(eventType, id string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// errorPayload renders err for the wire without leaking internal details
func errorPayload(err error) ErrorPayload {
	if appErr, ok := apperrors.As(err); ok {
		return ErrorPayload{Error: appErr.Message, Code: appErr.Code}
	}
	return ErrorPayload{Error: "Internal server error", Code: apperrors.CodeInternal}
}
