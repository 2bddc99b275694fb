package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(WithRegistry(prometheus.NewRegistry()))
}

func TestSessionMetrics(t *testing.T) {
	m := newTestManager()

	m.SessionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionActive))

	m.SessionEnded("timeout", 60*time.Second)
	m.SessionEnded("timeout", 60*time.Second)
	m.SessionEnded("other", time.Second)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsEnded.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsEnded.WithLabelValues("other")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionActive))
}

func TestCycleMetrics(t *testing.T) {
	m := newTestManager()

	m.CycleFailed("read")
	m.CycleFailed("read")
	m.CycleFailed("parse")
	m.TokenScanned()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycleFailures.WithLabelValues("read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycleFailures.WithLabelValues("parse")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensScanned))
}

func TestRelayMetrics(t *testing.T) {
	m := newTestManager()

	m.RelayFinished("success", 20*time.Millisecond)
	m.RelayFinished("server error", 5*time.Millisecond)
	m.Alert("Session Invalidated")
	m.SetReadersConnected(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayRequests.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayRequests.WithLabelValues("server error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.relayDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("Session Invalidated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.readersConnected))
}

func TestHandler(t *testing.T) {
	m := NewManager(WithNamespace("test"))
	m.TokenScanned()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "test_cycle_tokens_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
