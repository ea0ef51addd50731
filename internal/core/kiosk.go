// Package core assembles the kiosk service: engine, media bridge, MQTT emitter and
// control plane.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/internal/bridge"
	"github.com/e7canasta/orion-kiosk-bridge/internal/config"
	"github.com/e7canasta/orion-kiosk-bridge/internal/control"
	"github.com/e7canasta/orion-kiosk-bridge/internal/emitter"
	"github.com/e7canasta/orion-kiosk-bridge/internal/engine"
	audiorender "github.com/e7canasta/orion-kiosk-bridge/modules/audio-render"
	"github.com/e7canasta/orion-kiosk-bridge/modules/devices"
	"github.com/e7canasta/orion-kiosk-bridge/modules/framebus"
	streamcapture "github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture"
)

const (
	// cameraStallTimeout is how long a running camera may go without a frame
	cameraStallTimeout = 10 * time.Second
	watchdogInterval   = 5 * time.Second
	mqttEventBuffer    = 64
	mqttSubscriber     = "mqtt"
)

// hostEngine is the part of HostProcess the service drives beyond engine.Engine.
type hostEngine interface {
	engine.Engine
	Start(ctx context.Context) error
}

// Kiosk is the main service orchestrator
type Kiosk struct {
	cfg *config.Config

	// Core components
	engine  engine.Engine
	bridge  *bridge.Bridge
	emitter *emitter.MQTTEmitter
	control *control.Handler
	health  *http.Server

	// Lifecycle management
	started   time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // For MQTT shutdown command
}

// NewKiosk creates the production service: GStreamer camera, ALSA/GStreamer microphone,
// ALSA/oto speaker, system device enumeration. selfTest forces the loopback engine.
func NewKiosk(cfg *config.Config, selfTest bool) (*Kiosk, error) {
	enum := devices.NewSystemEnumerator()
	enum.SkipKeywords = cfg.Camera.SkipKeywords

	k := &Kiosk{cfg: cfg}
	eng, err := k.buildEngine(selfTest)
	if err != nil {
		return nil, err
	}

	return newKiosk(cfg, bridge.Options{
		Engine:     eng,
		Enumerator: enum,
		Devices:    ProductionDevices(cfg),
	}, k)
}

// NewKioskWithOptions creates a service around caller-supplied bridge collaborators.
func NewKioskWithOptions(cfg *config.Config, opts bridge.Options) (*Kiosk, error) {
	return newKiosk(cfg, opts, &Kiosk{cfg: cfg})
}

func newKiosk(cfg *config.Config, opts bridge.Options, k *Kiosk) (*Kiosk, error) {
	b, err := bridge.New(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}
	k.engine = opts.Engine
	k.bridge = b
	if cfg.MQTT.Enabled() {
		k.emitter = emitter.NewMQTTEmitter(cfg)
	}
	return k, nil
}

// buildEngine picks the RTC engine for the configured mode.
func (k *Kiosk) buildEngine(selfTest bool) (engine.Engine, error) {
	if selfTest || k.cfg.Engine.Mode == config.EngineLoopback {
		slog.Info("core: using loopback engine", "self_test", selfTest)
		return engine.NewLoopback(), nil
	}

	e := k.cfg.Engine
	host, err := engine.NewHostProcess(engine.HostConfig{
		Binary: e.HostBinary,
		Args:   e.HostArgs,
		Credentials: engine.Credentials{
			AppID:     e.AppID,
			AppKey:    e.AppKey,
			ServerURL: e.ServerURL,
			RoomID:    e.RoomID,
			UserID:    e.UserID,
		},
		// the bridge exists before the host is started
		Report: func(source string, err error) { k.bridge.Report(source, err) },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine host: %w", err)
	}
	slog.Info("core: using engine host", "binary", e.HostBinary, "room_id", e.RoomID)
	return host, nil
}

// ProductionDevices returns the hardware device factories selected by the audio backends.
func ProductionDevices(cfg *config.Config) bridge.Devices {
	d := bridge.Devices{Camera: streamcapture.NewGStreamerCamera()}

	switch cfg.Audio.CaptureBackend {
	case "gstreamer":
		d.Microphone = streamcapture.NewGStreamerMicrophone
	default:
		d.Microphone = streamcapture.NewALSAMicrophone
	}

	switch cfg.Audio.PlaybackBackend {
	case "oto":
		d.Speaker = func(id string) audiorender.PlaybackDevice {
			slog.Info("core: oto playback uses the system default output", "selected_device", id)
			return audiorender.NewOtoDevice()
		}
	default:
		d.Speaker = audiorender.NewALSADevice
	}
	return d
}

// Run starts the service and blocks until ctx is cancelled, the shutdown command
// arrives, or the bridge hits a fatal condition.
func (k *Kiosk) Run(ctx context.Context) error {
	k.mu.Lock()
	if k.isRunning {
		k.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	k.isRunning = true
	k.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	k.cancelCtx = cancel
	k.mu.Unlock()

	slog.Info("core: kiosk service starting",
		"instance_id", k.cfg.InstanceID,
		"engine", k.cfg.Engine.Mode,
	)

	// Workers outlive ctx: Shutdown stops them in order.
	workerCtx := context.Background()

	if host, ok := k.engine.(hostEngine); ok {
		if err := host.Start(workerCtx); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
	}

	if err := k.bridge.Start(workerCtx); err != nil {
		_ = k.engine.Close()
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	if k.cfg.HealthAddr != "" {
		if _, err := k.StartHealthServer(k.cfg.HealthAddr); err != nil {
			slog.Error("core: health server not started", "addr", k.cfg.HealthAddr, "error", err)
		}
	}

	if k.emitter != nil {
		k.startControlPlane(ctx)
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.watchCamera(ctx)
	}()

	fatal := make(chan error, 1)
	go func() { fatal <- k.bridge.Wait() }()

	slog.Info("core: kiosk service running", "control_plane", k.control != nil)

	select {
	case <-ctx.Done():
		slog.Info("core: kiosk service run loop exiting")
		return nil
	case err := <-fatal:
		if err != nil {
			return fmt.Errorf("bridge failed: %w", err)
		}
		return nil
	}
}

// startControlPlane connects MQTT and starts the control handler and the event
// forwarder. A broker outage is not fatal: the kiosk works without a control plane.
func (k *Kiosk) startControlPlane(ctx context.Context) {
	if err := k.emitter.Connect(ctx); err != nil {
		slog.Error("core: mqtt unavailable, running without control plane", "error", err)
		return
	}

	handler, err := control.NewHandler(k.cfg, k.emitter.Client, k.bridge, k.requestShutdown)
	if err == nil {
		err = handler.Start(ctx)
	}
	if err != nil {
		slog.Error("core: control plane failed to start", "error", err)
	} else {
		k.mu.Lock()
		k.control = handler
		k.mu.Unlock()
	}

	events := make(chan bridge.Event, mqttEventBuffer)
	if err := k.bridge.SubscribeEvents(mqttSubscriber, events); err != nil {
		slog.Error("core: event subscription failed", "error", err)
		return
	}
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		k.emitter.Run(ctx, events, k.bridge.Status)
	}()
}

func (k *Kiosk) requestShutdown() {
	k.mu.Lock()
	cancel := k.cancelCtx
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Bridge returns the media bridge.
func (k *Kiosk) Bridge() *bridge.Bridge { return k.bridge }

// Shutdown performs graceful shutdown of all components
func (k *Kiosk) Shutdown(ctx context.Context) error {
	k.mu.Lock()
	if !k.isRunning {
		k.mu.Unlock()
		return nil
	}
	handler, health := k.control, k.health
	k.mu.Unlock()

	slog.Info("core: shutting down kiosk service")

	var errs []error

	// 1. Control plane first: no commands against half-stopped workers
	if handler != nil {
		if err := handler.Stop(); err != nil {
			slog.Error("core: failed to stop control handler", "error", err)
			errs = append(errs, err)
		}
	}
	if k.emitter != nil {
		if err := k.bridge.UnsubscribeEvents(mqttSubscriber); err != nil && !errors.Is(err, framebus.ErrSubscriberNotFound) {
			slog.Debug("core: mqtt event subscriber not detached", "error", err)
		}
	}

	// 2. Media workers, pumps and engine
	if err := k.bridge.Shutdown(ctx); err != nil {
		slog.Error("core: bridge shutdown failed", "error", err)
		errs = append(errs, err)
	}

	// 3. Watchdog and event forwarder
	k.requestShutdown()
	k.wg.Wait()

	// 4. Health endpoints
	if health != nil {
		if err := health.Shutdown(ctx); err != nil {
			slog.Error("core: health server shutdown failed", "error", err)
		}
	}

	// 5. Final status and MQTT disconnect
	if k.emitter != nil {
		if err := k.emitter.PublishStatus(k.bridge.Status()); err != nil {
			slog.Debug("core: final status not published", "error", err)
		}
		if err := k.emitter.Disconnect(); err != nil {
			slog.Error("core: failed to disconnect mqtt", "error", err)
		}
	}

	k.mu.Lock()
	uptime := time.Since(k.started)
	k.isRunning = false
	k.mu.Unlock()

	slog.Info("core: kiosk service shutdown complete", "uptime", uptime)
	return errors.Join(errs...)
}

// watchCamera restarts a camera that is running but has stopped delivering frames.
func (k *Kiosk) watchCamera(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := k.bridge.Status()
			if !cameraStalled(st.Camera, cameraStallTimeout) {
				continue
			}

			slog.Warn("core: camera appears stalled, attempting restart",
				"camera", st.Camera.ID,
				"last_frame_ago_ms", st.Camera.LatencyMS,
				"run_frames", st.Camera.RunFrames,
			)
			if err := k.bridge.StopVideo(); err != nil {
				slog.Error("core: failed to stop stalled camera", "camera", st.Camera.ID, "error", err)
				continue
			}
			if err := k.bridge.StartVideo(); err != nil {
				slog.Error("core: failed to restart camera", "camera", st.Camera.ID, "error", err)
				continue
			}
			slog.Info("core: camera restarted", "camera", st.Camera.ID)
		}
	}
}

// cameraStalled reports whether a capturing camera has produced no frame for timeout.
// A run that has not delivered its first frame yet is not considered stalled: that is
// the structural error path, not the watchdog's.
func cameraStalled(cs bridge.CameraStatus, timeout time.Duration) bool {
	return cs.Capturing && cs.RunFrames > 0 && cs.LatencyMS > timeout.Milliseconds()
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (k *Kiosk) ShutdownTimeout() time.Duration {
	return k.cfg.ShutdownTimeout()
}
