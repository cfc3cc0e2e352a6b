package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_Statuses(t *testing.T) {
	h := NewHealthStatus()
	h.SetBrokerState("ib", "connected")
	h.SetBrokerState("paper", "connected")
	assert.Equal(t, "healthy", h.Report().Status)

	h.SetBrokerState("ib", "disconnected")
	rep := h.Report()
	assert.Equal(t, "degraded", rep.Status)
	assert.Equal(t, []string{"ib"}, rep.Disconnected)

	h.SetBrokerState("paper", "disconnected")
	assert.Equal(t, "unhealthy", h.Report().Status)
}

func TestHealth_RedisOnlyCountsWhenEnabled(t *testing.T) {
	h := NewHealthStatus()
	h.SetBrokerState("ib", "connected")
	h.SetRedisConnected(false)
	assert.Equal(t, "healthy", h.Report().Status)

	h.SetRedisEnabled(true)
	assert.Equal(t, "degraded", h.Report().Status)
}

func TestHealth_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetBrokerState("ib", "disconnected")
	h.SetLastBarTime(time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var rep Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "unhealthy", rep.Status)
	assert.NotEmpty(t, rep.LastBarTime)
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.DispatchTotal.WithLabelValues("ib", "filled").Inc()

	srv := NewServer(":0", NewHealthStatus(), reg, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `trader_dispatch_total{broker="ib",result="filled"} 1`))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("ib", "filled")))
}

func TestLivenessChecker_RunsSamplers(t *testing.T) {
	h := NewHealthStatus()
	var calls atomic.Int32
	h.AddSampler(func() { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartLivenessChecker(ctx, nil, nil, 5*time.Millisecond)

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
