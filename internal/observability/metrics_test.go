package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthAttempt("ok")
		m.Credential("invitation", "issued")
		m.AvatarJob("done")
	})
}

func TestMiddlewareCountsByRoute(t *testing.T) {
	m := NewMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/user/get", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/get", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/api/user/get", "200"))
	assert.Equal(t, 3.0, got)
}

func TestCountersExposed(t *testing.T) {
	m := NewMetrics()
	m.AuthAttempt("ok")
	m.Credential("reset_code", "issued")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `account_auth_attempts_total{outcome="ok"} 1`))
	assert.True(t, strings.Contains(body, `account_credentials_total{action="issued",kind="reset_code"} 1`))
}

func TestNewRequestIDIsMonotonic(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	l := NewLogger("chatty", true)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	_, isJSON := l.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
}
