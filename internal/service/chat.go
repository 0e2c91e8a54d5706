package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/internal/models"
	"persona-ritual/backend/internal/repository"
	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/shared/observability"

	"github.com/google/uuid"
)

const (
	sessionAttempts = 3
	maxHistoryLimit = 100
)

// ReplyGenerator writes the persona's next line
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req ai.ChatRequest) (string, error)
}

// Moderator classifies user content
type Moderator interface {
	Moderate(ctx context.Context, text string) (ai.ModerationResult, error)
}

// ChatConfig tunes the chat engine
type ChatConfig struct {
	HistoryLimit      int
	ContextWindow     int
	MaxContentLength  int
	GenerationTimeout time.Duration
	ModerationTimeout time.Duration
}

// ChatEngine manages chat sessions and the message exchange with personas
type ChatEngine struct {
	chats     repository.ChatRepository
	personas  repository.PersonaRepository
	generator ReplyGenerator
	moderator Moderator
	onGenFail OnGenerationFailure
	onModFail OnModerationFailure
	cfg       ChatConfig
	sessions  *keyedMutex
	metrics   *observability.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// NewChatEngine creates a chat engine. Nil policies fall back to the defaults.
func NewChatEngine(
	chats repository.ChatRepository,
	personas repository.PersonaRepository,
	generator ReplyGenerator,
	moderator Moderator,
	onGenFail OnGenerationFailure,
	onModFail OnModerationFailure,
	cfg ChatConfig,
	metrics *observability.Metrics,
	log *logger.Logger,
) *ChatEngine {
	if onGenFail == nil {
		onGenFail = FallbackOnGenerationFailure{}
	}
	if onModFail == nil {
		onModFail = AllowOnModerationFailure{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 2000
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &ChatEngine{
		chats:     chats,
		personas:  personas,
		generator: generator,
		moderator: moderator,
		onGenFail: onGenFail,
		onModFail: onModFail,
		cfg:       cfg,
		sessions:  newKeyedMutex(),
		metrics:   metrics,
		log:       log.With("component", "chat"),
		now:       time.Now,
	}
}

// GetOrCreateSession returns the owner's session with the persona, creating it on first use
func (e *ChatEngine) GetOrCreateSession(ctx context.Context, ownerID, personaID string) (*SessionView, error) {
	if strings.TrimSpace(personaID) == "" {
		return nil, apperrors.Validation("personaId is required")
	}

	persona, err := e.personas.FindPersonaForOwner(ctx, personaID, ownerID)
	if err != nil {
		return nil, notFound(err, "Persona")
	}

	for attempt := 0; attempt < sessionAttempts; attempt++ {
		existing, err := e.chats.FindSessionByPair(ctx, ownerID, persona.ID)
		if err == nil {
			view := newSessionView(existing, persona.Name)
			return &view, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}

		now := e.timestamp()
		session := &models.ChatSession{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			PersonaID:     persona.ID,
			StartedAt:     now,
			LastMessageAt: now,
		}
		err = e.chats.InsertSession(ctx, session)
		if err == nil {
			e.log.Info("Chat session started", "session_id", session.ID, "persona_id", persona.ID, "user_id", ownerID)
			view := newSessionView(session, persona.Name)
			return &view, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to create session after %d attempts", sessionAttempts)
}

// SendMessage moderates and stores the user's message, then stores the persona's reply.
// Messages of one session are handled one at a time so each reply follows its prompt.
func (e *ChatEngine) SendMessage(ctx context.Context, ownerID, sessionID, content string) (*ExchangeView, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > e.cfg.MaxContentLength {
		return nil, apperrors.Validation(fmt.Sprintf("content must be at most %d characters", e.cfg.MaxContentLength))
	}

	unlock := e.sessions.Lock(sessionID)
	defer unlock()

	session, err := e.chats.FindSessionForOwner(ctx, sessionID, ownerID)
	if err != nil {
		return nil, notFound(err, "Chat session")
	}
	persona := session.Persona

	verdict, err := e.moderate(ctx, content)
	if err != nil {
		return nil, err
	}
	if !verdict.Safe {
		e.metrics.ModerationRejected(ctx)
		e.log.Info("Message rejected by moderation", "session_id", session.ID, "reason", verdict.Reason)
		return nil, apperrors.ModerationRejected(verdict.Reason)
	}

	history, err := e.chats.RecentMessages(ctx, session.ID, e.cfg.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	userAt := e.timestamp()
	if n := len(history); n > 0 {
		userAt = strictlyAfter(userAt, history[n-1].CreatedAt)
	}
	userMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Sender:    models.SenderUser,
		Content:   content,
		CreatedAt: userAt,
	}
	if err := e.chats.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	e.metrics.ChatMessage(ctx, string(models.SenderUser))

	reply, err := e.reply(ctx, ai.ChatRequest{
		PersonaName:  persona.Name,
		SystemPrompt: persona.SystemPrompt,
		History:      history,
		UserMessage:  content,
	})
	if err != nil {
		return nil, err
	}

	aiMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Sender:    models.SenderAI,
		Content:   reply,
		CreatedAt: strictlyAfter(e.timestamp(), userMsg.CreatedAt),
	}
	if err := e.chats.AppendMessage(ctx, aiMsg); err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}
	e.metrics.ChatMessage(ctx, string(models.SenderAI))

	if err := e.chats.TouchSession(ctx, session.ID, aiMsg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if err := e.personas.IncrementBondLevel(ctx, persona.ID); err != nil {
		return nil, fmt.Errorf("failed to update bond level: %w", err)
	}

	return &ExchangeView{
		UserMessage: newMessageView(userMsg),
		AIMessage:   newMessageView(aiMsg),
	}, nil
}

// GetHistory returns up to limit of the latest messages, oldest first
func (e *ChatEngine) GetHistory(ctx context.Context, ownerID, sessionID string, limit int) ([]MessageView, error) {
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	session, err := e.chats.FindSessionForOwner(ctx, sessionID, ownerID)
	if err != nil {
		return nil, notFound(err, "Chat session")
	}

	messages, err := e.chats.RecentMessages(ctx, session.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	views := make([]MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, newMessageView(&messages[i]))
	}
	return views, nil
}

// ListSessions returns the owner's sessions, most recently active first
func (e *ChatEngine) ListSessions(ctx context.Context, ownerID string) ([]SessionView, error) {
	sessions, err := e.chats.ListSessionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		name := ""
		if sessions[i].Persona != nil {
			name = sessions[i].Persona.Name
		}
		views = append(views, newSessionView(&sessions[i], name))
	}
	return views, nil
}

func (e *ChatEngine) moderate(ctx context.Context, content string) (ai.ModerationResult, error) {
	callCtx, cancel := withTimeout(ctx, e.cfg.ModerationTimeout)
	defer cancel()

	verdict, err := e.moderator.Moderate(callCtx, content)
	if err == nil {
		return verdict, nil
	}

	e.metrics.GenerationFailed(ctx, "moderation")
	e.log.Warn("Moderation failed, applying policy", "error", err.Error())
	return e.onModFail.Verdict(ctx, err)
}

func (e *ChatEngine) reply(ctx context.Context, req ai.ChatRequest) (string, error) {
	callCtx, cancel := withTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	reply, err := e.generator.GenerateReply(callCtx, req)
	if err == nil {
		if strings.TrimSpace(reply) == "" {
			return ai.EmptyReply, nil
		}
		return reply, nil
	}

	e.metrics.GenerationFailed(ctx, "reply")
	e.log.Warn("Reply generation failed, applying policy", "error", err.Error())
	return e.onGenFail.Reply(ctx, err)
}

// timestamp is the store's clock: UTC at microsecond precision
func (e *ChatEngine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

func strictlyAfter(t, prev time.Time) time.Time {
	if t.After(prev) {
		return t
	}
	return prev.Add(time.Microsecond)
}
