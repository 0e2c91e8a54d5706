package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"persona-ritual/backend/ai"
	"persona-ritual/backend/internal/service"
	"persona-ritual/backend/internal/ws"
	"persona-ritual/backend/pkg/config"
	"persona-ritual/backend/pkg/di"
	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/pkg/secrets"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSecrets makes every lookup miss so the test configuration is used as is
type noSecrets struct{}

func (noSecrets) GetSecret(context.Context, string) (string, error) {
	return "", secrets.ErrSecretNotFound
}

func (noSecrets) GetSecretWithDefault(_ context.Context, _, def string) string {
	return def
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("PRESENCE_BACKEND", "memory")
	t.Setenv("RATE_LIMIT", "1000")
	t.Setenv("RATE_LIMIT_BURST", "1000")
	t.Setenv("SUBMISSION_RATE_LIMIT", "0.001")
	t.Setenv("SUBMISSION_RATE_BURST", "1")
	t.Setenv("ALLOWED_ORIGINS", "https://ritual.example")
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	container, err := di.New(ctx, cfg, logger.NewNop(), di.Options{
		AI:      ai.Disabled{},
		Secrets: noSecrets{},
	})
	require.NoError(t, err)
	container.Start(ctx)

	t.Cleanup(func() {
		cancel()
		<-container.Hub.Done()
		require.NoError(t, container.Close(context.Background()))
	})

	r := New(container)
	r.SetupRoutes()
	return r
}

func (r *Router) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)
	r.Container.Health.RunChecks(context.Background())

	w := r.serve(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database"`)
	assert.Contains(t, w.Body.String(), `"presence"`)

	w = r.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = r.serve(httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/surveys")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	w := r.serve(httptest.NewRequest(http.MethodGet, "/api/v1/surveys/my", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	token, err := r.Container.JWTService.GenerateToken("owner")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/surveys/my", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = r.serve(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSchemaValidationAndSubmissionLimit(t *testing.T) {
	r := newTestRouter(t)

	survey, err := r.Container.SurveyService.CreateSurvey(context.Background(), "owner", service.CreateSurveyInput{})
	require.NoError(t, err)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/surveys/"+survey.ID+"/responses", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return r.serve(req)
	}

	// rejected by the schema before reaching the limiter
	w := post(`{"answers":"not an object","fingerprintHash":"device-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(`{"answers":{"q1":"kind"},"fingerprintHash":"device-1"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = post(`{"answers":{"q1":"kind"},"fingerprintHash":"device-2"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/personas", nil)
	req.Header.Set("Origin", "https://ritual.example")
	w := r.serve(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ritual.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/personas", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = r.serve(req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketRoute(t *testing.T) {
	r := newTestRouter(t)
	srv := httptest.NewServer(r.Engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, ws.EventConnected, env.Type)
}
