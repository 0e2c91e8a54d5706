package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"persona-ritual/backend/internal/service"
	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/jwt"
	"persona-ritual/backend/pkg/logger"
)

// ChatService is the part of the chat engine the relay drives
type ChatService interface {
	GetOrCreateSession(ctx context.Context, ownerID, personaID string) (*service.SessionView, error)
	SendMessage(ctx context.Context, ownerID, sessionID, content string) (*service.ExchangeView, error)
}

// Authenticator resolves the token sent with chat:auth to a user id
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// JWTAuthenticator accepts tokens signed by the configured JWT secret
type JWTAuthenticator struct {
	tokens *jwt.Service
}

func NewJWTAuthenticator(tokens *jwt.Service) *JWTAuthenticator {
	return &JWTAuthenticator{tokens: tokens}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (string, error) {
	claims, err := a.tokens.ValidateToken(strings.TrimPrefix(token, "Bearer "))
	if err != nil {
		return "", apperrors.Unauthenticated("Invalid or expired token").WithCause(err)
	}
	return claims.User(), nil
}

// Relay maps socket events onto the chat engine. Failures become error payloads
// for the sender and never close the connection.
type Relay struct {
	chat     ChatService
	presence PresenceStore
	hub      *Hub
	auth     Authenticator
	timeout  time.Duration
	log      *logger.Logger
}

// NewRelay wires the relay. timeout bounds the store work of each event, zero means none.
func NewRelay(chat ChatService, presence PresenceStore, hub *Hub, auth Authenticator, timeout time.Duration, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Relay{
		chat:     chat,
		presence: presence,
		hub:      hub,
		auth:     auth,
		timeout:  timeout,
		log:      log.With("component", "relay"),
	}
}

// Handle processes one inbound event for c
func (r *Relay) Handle(ctx context.Context, c *Client, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Panic while handling event", "type", env.Type, "connection_id", c.ID, "panic", fmt.Sprint(rec))
			c.reply(AckType(env.Type), env.ID, ErrorPayload{Error: "Internal server error", Code: apperrors.CodeInternal})
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		payload any
		err     error
	)
	switch env.Type {
	case EventPing:
		c.reply(EventPong, env.ID, nil)
		return
	case EventAuth:
		payload, err = r.authenticate(ctx, c, env.Payload)
	case EventJoin:
		payload, err = r.join(ctx, c, env.Payload)
	case EventMessage:
		payload, err = r.message(ctx, c, env.Payload)
	default:
		err = apperrors.Validation("Unknown event type " + env.Type)
	}

	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			r.log.LogError(err, "Event failed", "type", env.Type, "connection_id", c.ID)
		}
		c.reply(AckType(env.Type), env.ID, errorPayload(err))
		return
	}
	c.reply(AckType(env.Type), env.ID, payload)
}

// Disconnect drops everything the presence store holds for c
func (r *Relay) Disconnect(ctx context.Context, c *Client) {
	if err := r.presence.Remove(context.WithoutCancel(ctx), c.ID); err != nil {
		r.log.LogError(err, "Failed to clear presence", "connection_id", c.ID)
	}
}

func (r *Relay) authenticate(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	var req authRequest
	if err := decodePayload(raw, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Token) == "" {
		return nil, apperrors.Unauthenticated("token is required")
	}

	userID, err := r.auth.Authenticate(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if err := r.presence.Bind(ctx, c.ID, userID); err != nil {
		return nil, err
	}

	r.log.Info("Connection authenticated", "connection_id", c.ID, "user_id", userID)
	return authAck{Success: true, UserID: userID}, nil
}

func (r *Relay) join(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	userID, err := r.user(ctx, c)
	if err != nil {
		return nil, err
	}

	var req joinRequest
	if err := decodePayload(raw, &req); err != nil {
		return nil, err
	}

	session, err := r.chat.GetOrCreateSession(ctx, userID, req.PersonaID)
	if err != nil {
		return nil, err
	}
	if err := r.presence.Join(ctx, c.ID, SessionRoom(session.ID)); err != nil {
		return nil, err
	}
	return joinAck{Success: true, Session: session}, nil
}

func (r *Relay) message(ctx context.Context, c *Client, raw json.RawMessage) (any, error) {
	userID, err := r.user(ctx, c)
	if err != nil {
		return nil, err
	}

	var req messageRequest
	if err := decodePayload(raw, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, apperrors.Validation("sessionId is required")
	}

	exchange, err := r.chat.SendMessage(ctx, userID, req.SessionID, req.Content)
	if err != nil {
		return nil, err
	}

	r.broadcast(ctx, req.SessionID, exchange.AIMessage)
	return messageAck{Success: true, UserMessage: exchange.UserMessage}, nil
}

// broadcast hands the reply to every local member of the session room
func (r *Relay) broadcast(ctx context.Context, sessionID string, msg service.MessageView) {
	members, err := r.presence.Members(ctx, SessionRoom(sessionID))
	if err != nil {
		r.log.LogError(err, "Failed to load room members", "session_id", sessionID)
		return
	}

	data, err := encode(EventResponse, "", ResponseEvent{SessionID: sessionID, Message: msg})
	if err != nil {
		r.log.LogError(err, "Failed to encode response", "session_id", sessionID)
		return
	}
	r.hub.Send(data, members...)
}

func (r *Relay) user(ctx context.Context, c *Client) (string, error) {
	userID, err := r.presence.UserFor(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", apperrors.Unauthenticated("Send chat:auth first")
	}
	return userID, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperrors.Validation("payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.Validation("payload is malformed")
	}
	return nil
}
