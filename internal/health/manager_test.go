package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func staticChecker(name string, critical bool, status CheckStatus) Checker {
	return NewCheckFunc(name, critical, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status, Message: name}
	})
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(staticChecker("database", true, StatusHealthy)))
	err := m.Register(staticChecker("database", true, StatusHealthy))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestAggregateAllHealthy(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(staticChecker("database", true, StatusHealthy)))
	require.NoError(t, m.Register(staticChecker("temporal", true, StatusHealthy)))

	detailed := m.Detailed(context.Background())
	assert.Equal(t, StatusHealthy, detailed.Overall.Status)
	assert.True(t, detailed.Overall.Ready)
	assert.Len(t, detailed.Components, 2)
}

func TestCriticalFailureBlocksReadiness(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(staticChecker("database", true, StatusUnhealthy)))
	require.NoError(t, m.Register(staticChecker("redis", false, StatusHealthy)))

	detailed := m.Detailed(context.Background())
	assert.Equal(t, StatusUnhealthy, detailed.Overall.Status)
	assert.False(t, detailed.Overall.Ready)
	assert.True(t, detailed.Overall.Live)
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(staticChecker("database", true, StatusHealthy)))
	require.NoError(t, m.Register(staticChecker("redis", false, StatusUnhealthy)))

	detailed := m.Detailed(context.Background())
	assert.Equal(t, StatusDegraded, detailed.Overall.Status)
	assert.True(t, detailed.Overall.Ready)
}

func TestNoCheckersIsUnknown(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	overall := m.Overall()
	assert.Equal(t, StatusUnknown, overall.Status)
	assert.False(t, overall.Ready)
}

func TestServiceCheckerStatusMapping(t *testing.T) {
	cases := []struct {
		code int
		want CheckStatus
	}{
		{http.StatusOK, StatusHealthy},
		{http.StatusTemporaryRedirect, StatusDegraded},
		{http.StatusInternalServerError, StatusUnhealthy},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		}))
		c := NewServiceChecker("llm_service", srv.URL, false)
		result := c.Check(context.Background())
		assert.Equal(t, tc.want, result.Status, "status code %d", tc.code)
		srv.Close()
	}
}

func TestProbeEndpoints(t *testing.T) {
	m := NewManager(time.Minute, zap.NewNop())
	require.NoError(t, m.Register(staticChecker("database", true, StatusUnhealthy)))
	m.runAll(context.Background())

	mux := http.NewServeMux()
	NewHTTPHandler(m, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var overall OverallHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overall))
	assert.False(t, overall.Ready)
}
