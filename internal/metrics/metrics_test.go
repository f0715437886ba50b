package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.SetSessionsActive(3)
	m.Handshake(ResultActive)
	m.Handshake(ResultActive)
	m.Handshake(ResultRejected)
	m.FrameReceived("log")
	m.FrameSent()
	m.Heartbeats(4)
	m.ControlCommand("reload", "sent")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.handshakes.WithLabelValues(ResultActive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived.WithLabelValues("log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesSent))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.heartbeats))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.controlCmds.WithLabelValues("reload", "sent")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetSessionsActive(1)
		m.Handshake(ResultActive)
		m.FrameReceived("log")
		m.FrameSent()
		m.Heartbeats(1)
		m.ControlCommand("stop", "sent")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Heartbeats(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "bot_manager_heartbeat_pings_total 2")
}
