package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"persona-ritual/backend/pkg/logger"
	"persona-ritual/backend/pkg/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCriticalComponentDrivesStatus(t *testing.T) {
	checker := NewChecker(logger.NewNop(), time.Minute, "test")
	dbErr := errors.New("connection refused")
	var failing bool
	checker.RegisterDatabaseCheck(func(context.Context) error {
		if failing {
			return dbErr
		}
		return nil
	})
	checker.RegisterPresenceCheck(func(context.Context) error { return errors.New("redis down") })

	grpcServer := grpchealth.NewServer()
	checker.AttachGRPC(grpcServer)

	checker.RunChecks(context.Background())
	assert.True(t, checker.IsSystemHealthy())
	assert.Equal(t, StatusDegraded, checker.GetStatus()["presence"].Status)

	resp, err := grpcServer.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	failing = true
	checker.RunChecks(context.Background())
	assert.False(t, checker.IsSystemHealthy())
	assert.Equal(t, "connection refused", checker.GetStatus()["database"].Error)

	resp, err = grpcServer.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestHTTPHandler(t *testing.T) {
	checker := NewChecker(logger.NewNop(), time.Minute, "1.2.3")
	breaker := resilience.NewCircuitBreaker(resilience.Config{Name: "ai", FailureThreshold: 1, RetryTimeout: time.Hour}, nil)
	checker.RegisterCircuitCheck("ai", breaker)
	checker.RegisterDatabaseCheck(func(context.Context) error { return nil })

	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	checker.RunChecks(context.Background())

	w := httptest.NewRecorder()
	checker.HTTPHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status     string                `json:"status"`
		Version    string                `json:"version"`
		Components map[string]*Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, StatusDegraded, body.Components["ai"].Status)
	assert.Equal(t, StatusUp, body.Components["database"].Status)
}

func TestUncheckedCriticalComponentIsUnhealthy(t *testing.T) {
	checker := NewChecker(logger.NewNop(), time.Minute, "test")
	checker.RegisterDatabaseCheck(func(context.Context) error { return nil })

	w := httptest.NewRecorder()
	checker.HTTPHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
