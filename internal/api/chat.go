package api

import (
	"net/http"
	"strconv"

	"persona-ritual/backend/internal/service"
	apperrors "persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves chat sessions over REST. The realtime relay drives the same engine.
type ChatHandler struct {
	chat   *service.ChatEngine
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *service.ChatEngine, logger *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// RegisterRoutesV1 mounts the chat routes, all of them authenticated
func (h *ChatHandler) RegisterRoutesV1(v1 *gin.RouterGroup, auth gin.HandlerFunc) {
	chats := v1.Group("/chats", auth)
	{
		chats.GET("/sessions", h.ListSessions)
		chats.POST("/sessions", h.CreateSession)
		chats.GET("/:sessionId/history", h.GetHistory)
		chats.POST("/:sessionId/messages", h.SendMessage)
	}
}

// ListSessions returns the caller's sessions, most recently active first
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	sessions, err := h.chat.ListSessions(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, sessions)
}

// CreateSession returns the caller's session with a persona, creating it on first use
func (h *ChatHandler) CreateSession(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		PersonaID string `json:"personaId"`
	}
	if !bindJSON(c, &req, false) {
		return
	}
	if req.PersonaID == "" {
		c.Error(apperrors.Validation("personaId is required"))
		return
	}

	session, err := h.chat.GetOrCreateSession(c.Request.Context(), userID, req.PersonaID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetHistory returns the latest messages of a session, oldest first
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.Error(apperrors.Validation("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	messages, err := h.chat.GetHistory(c.Request.Context(), userID, c.Param("sessionId"), limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

// SendMessage stores the caller's message and the persona's reply
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req, false) {
		return
	}

	exchange, err := h.chat.SendMessage(c.Request.Context(), userID, c.Param("sessionId"), req.Content)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, exchange)
}
