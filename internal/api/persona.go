package api

import (
	"net/http"

	"persona-ritual/backend/internal/service"
	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// PersonaHandler serves persona synthesis and lookup
type PersonaHandler struct {
	synthesis *service.SynthesisEngine
	logger    *logger.Logger
}

func NewPersonaHandler(synthesis *service.SynthesisEngine, logger *logger.Logger) *PersonaHandler {
	return &PersonaHandler{synthesis: synthesis, logger: logger}
}

// RegisterRoutesV1 mounts the persona routes, all of them authenticated
func (h *PersonaHandler) RegisterRoutesV1(v1 *gin.RouterGroup, auth gin.HandlerFunc) {
	personas := v1.Group("/personas", auth)
	{
		personas.POST("/synthesize", h.Synthesize)
		personas.GET("", h.ListPersonas)
		personas.GET("/:id", h.GetPersona)
	}
}

func (h *PersonaHandler) Synthesize(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req service.SynthesizeInput
	if !bindJSON(c, &req, false) {
		return
	}

	persona, err := h.synthesis.Synthesize(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}

	logger.FromGin(c).Info("Persona synthesized", "persona_id", persona.ID, "survey_id", req.SurveyID)
	c.JSON(http.StatusCreated, persona)
}

func (h *PersonaHandler) ListPersonas(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	personas, err := h.synthesis.ListPersonas(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, personas)
}

func (h *PersonaHandler) GetPersona(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	persona, err := h.synthesis.GetPersona(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, persona)
}
