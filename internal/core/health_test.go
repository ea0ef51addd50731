package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_NotRunning(t *testing.T) {
	k, _, _ := newTestKiosk(t)

	assert.Equal(t, "unhealthy", k.HealthCheck().Status)

	rec := httptest.NewRecorder()
	k.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	k.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHealth_Running(t *testing.T) {
	k, _, _ := newTestKiosk(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = k.Shutdown(context.Background())
	})

	require.Eventually(t, func() bool {
		return k.HealthCheck().Status == "healthy"
	}, 3*time.Second, 10*time.Millisecond)

	h := k.HealthCheck()
	assert.True(t, h.CameraCapturing)
	assert.True(t, h.MicCapturing)
	assert.True(t, h.SpeakerRunning)
	assert.False(t, h.MQTTConnected, "no broker configured")

	rec := httptest.NewRecorder()
	k.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "healthy", got.Status)

	rec = httptest.NewRecorder()
	k.StatusHandler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["running"])
	assert.Equal(t, "kiosk-test", status["instance_id"])
}

func TestHealth_Degraded(t *testing.T) {
	k, _, _ := newTestKiosk(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = k.Shutdown(context.Background())
	})
	require.Eventually(t, func() bool { return k.Bridge().Status().Camera.Capturing }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, k.Bridge().StopVideo())
	assert.Equal(t, "degraded", k.HealthCheck().Status)

	rec := httptest.NewRecorder()
	k.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded is still ready")
}

func TestStartHealthServer(t *testing.T) {
	k, _, _ := newTestKiosk(t)

	srv, err := k.StartHealthServer("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	_, err = k.StartHealthServer("256.0.0.1:bad")
	assert.Error(t, err)

	k.mu.Lock()
	assert.Same(t, srv, k.health)
	k.mu.Unlock()
}

func TestStartHealthServer_Serves(t *testing.T) {
	k, _, _ := newTestKiosk(t)

	srv := httptest.NewServer(http.HandlerFunc(k.LivenessHandler))
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("%s/health", srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
