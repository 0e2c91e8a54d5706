package api

import (
	"net/http"

	"persona-ritual/backend/internal/service"
	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SurveyHandler serves survey creation, anonymous submission and progress
type SurveyHandler struct {
	surveys *service.SurveyEngine
	logger  *logger.Logger
}

// NewSurveyHandler creates a new survey handler
func NewSurveyHandler(surveys *service.SurveyEngine, logger *logger.Logger) *SurveyHandler {
	return &SurveyHandler{surveys: surveys, logger: logger}
}

// RegisterRoutesV1 mounts the survey routes. submitLimit guards the anonymous submission route.
func (h *SurveyHandler) RegisterRoutesV1(v1 *gin.RouterGroup, auth, submitLimit gin.HandlerFunc) {
	surveys := v1.Group("/surveys")
	{
		surveys.POST("", auth, h.CreateSurvey)
		surveys.GET("/my", auth, h.ListMySurveys)
		surveys.GET("/:id/status", auth, h.GetSurveyStatus)

		// Public routes used by respondents
		surveys.GET("/:id/public", h.GetPublicSurvey)
		surveys.POST("/:id/responses", submitLimit, h.SubmitResponse)
	}
}

// CreateSurvey opens a survey for the caller
func (h *SurveyHandler) CreateSurvey(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req service.CreateSurveyInput
	if !bindJSON(c, &req, true) {
		return
	}

	survey, err := h.surveys.CreateSurvey(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, survey)
}

// ListMySurveys returns the caller's surveys, newest first
func (h *SurveyHandler) ListMySurveys(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	surveys, err := h.surveys.ListMySurveys(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, surveys)
}

// GetPublicSurvey resolves a survey by id or shareable token for respondents
func (h *SurveyHandler) GetPublicSurvey(c *gin.Context) {
	survey, err := h.surveys.GetPublicSurvey(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, survey)
}

// SubmitResponse records one anonymous response
func (h *SurveyHandler) SubmitResponse(c *gin.Context) {
	var req service.SubmitResponseInput
	if !bindJSON(c, &req, false) {
		return
	}

	if err := h.surveys.SubmitResponse(c.Request.Context(), c.Param("id"), req); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Response submitted successfully",
	})
}

// GetSurveyStatus reports progress towards the response threshold
func (h *SurveyHandler) GetSurveyStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	status, err := h.surveys.GetSurveyStatus(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}
