package core

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HealthStatus represents the health state of the kiosk service
type HealthStatus struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64  `json:"uptime_seconds"`
	CameraCapturing bool   `json:"camera_capturing"`
	MicCapturing    bool   `json:"mic_capturing"`
	SpeakerRunning  bool   `json:"speaker_running"`
	MQTTConnected   bool   `json:"mqtt_connected"`
	JoinTimeouts    int    `json:"join_timeouts"`
}

// HealthCheck returns the current health status of the service
func (k *Kiosk) HealthCheck() HealthStatus {
	k.mu.Lock()
	running, started := k.isRunning, k.started
	k.mu.Unlock()

	st := k.bridge.Status()
	h := HealthStatus{
		Status:          "healthy",
		CameraCapturing: st.Camera.Capturing,
		MicCapturing:    st.Microphone.Capturing,
		SpeakerRunning:  st.Speaker.Rendering,
		JoinTimeouts:    st.JoinTimeouts,
	}
	if running {
		h.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if k.emitter != nil {
		h.MQTTConnected = k.emitter.Stats().Connected
	}

	switch {
	case !running || !st.Running:
		h.Status = "unhealthy"
	case !h.CameraCapturing || !h.MicCapturing || !h.SpeakerRunning || h.JoinTimeouts > 0:
		h.Status = "degraded"
	case k.emitter != nil && !h.MQTTConnected:
		h.Status = "degraded"
	}
	return h
}

// LivenessHandler handles /health: 200 while the process is alive
func (k *Kiosk) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	k.mu.Lock()
	started := k.started
	k.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler handles /readiness: 503 only when unhealthy, degraded is still ready
func (k *Kiosk) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	health := k.HealthCheck()
	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// StatusHandler handles /status with the full bridge status
func (k *Kiosk) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, k.bridge.Status())
}

// StartHealthServer listens on addr and serves the health endpoints in the background.
// The returned server is closed by Shutdown.
func (k *Kiosk) StartHealthServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", k.LivenessHandler)
	mux.HandleFunc("/readiness", k.ReadinessHandler)
	mux.HandleFunc("/status", k.StatusHandler)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	slog.Info("core: starting health check server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/status"},
	)

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("core: health check server failed", "error", err)
		}
	}()

	k.mu.Lock()
	k.health = server
	k.mu.Unlock()
	return server, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("core: health response not written", "error", err)
	}
}
