package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsActive))

	m.AttemptRetried()
	m.SessionFinished(true, 12*time.Second)
	m.SessionFinished(false, 30*time.Second)
	m.MessageConfirmed()
	m.MessageConfirmed()
	m.ConfirmationMissed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsSucceeded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attemptsRetried))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesConfirmed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.confirmTimeouts))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sessionDuration))
}

func TestRouter(t *testing.T) {
	m := New()
	m.MessageConfirmed()
	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chatload_messages_confirmed_total 1")
	assert.Contains(t, string(body), "chatload_sessions_active 0")
}

func TestServeStopsWithContext(t *testing.T) {
	m := New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.serve(ctx, ln, zaptest.NewLogger(t)) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics listener did not stop")
	}
}

func TestServeBadAddress(t *testing.T) {
	err := New().Serve(context.Background(), "256.0.0.1:bad", zaptest.NewLogger(t))
	assert.Error(t, err)
}
