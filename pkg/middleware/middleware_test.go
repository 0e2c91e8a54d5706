package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/jwt"
	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestJWTAuthMiddleware(t *testing.T) {
	tokens := jwt.NewService("secret", time.Hour)
	router := gin.New()
	router.Use(errors.ErrorHandler())
	router.GET("/me", JWTAuthMiddleware(tokens, logger.NewNop()), func(c *gin.Context) {
		id, ok := UserID(c)
		require.True(t, ok)
		c.String(http.StatusOK, id)
	})

	token, err := tokens.GenerateToken("user-7")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errors.CodeUnauthenticated, errorCode(t, w))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	limiter := NewRateLimiter(logger.NewNop(), RateLimiterOptions{
		Name:    "test",
		Limit:   0.5,
		Burst:   2,
		KeyFunc: ClientIPKey,
	})
	router := gin.New()
	router.Use(errors.ErrorHandler(), limiter.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, errors.CodeRateLimited, errorCode(t, w))
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
}

func TestSubmissionKeyIsPerSurvey(t *testing.T) {
	limiter := NewRateLimiter(logger.NewNop(), RateLimiterOptions{Limit: 0.1, Burst: 1, KeyFunc: SubmissionKey})
	router := gin.New()
	router.Use(errors.ErrorHandler())
	router.POST("/surveys/:id/responses", limiter.Middleware(), func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 3)
	for _, path := range []string{"/surveys/a/responses", "/surveys/b/responses", "/surveys/a/responses"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(logger.NewNop(), RateLimiterOptions{Limit: 1, Burst: 1, ExpiryDuration: time.Minute})
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.getLimiter("a")
	limiter.getLimiter("b")
	assert.Equal(t, 2, limiter.size())

	now = now.Add(5 * time.Minute)
	limiter.getLimiter("c")
	assert.Equal(t, 1, limiter.size())
}
