package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	"github.com/google/uuid"
)

// ErrLoopStillRunning is wrapped in a DeviceOpenError when Start is called while a
// previous capture goroutine that missed its join deadline still owns the device.
var ErrLoopStillRunning = errors.New("previous capture loop still owns the device")

// CameraConfig configures a CameraCapture.
type CameraConfig struct {
	// Format is the raw format requested from the capture graph (default 640x480@15)
	Format VideoFormat
	// JoinTimeout bounds Stop (default 3s)
	JoinTimeout time.Duration
	// PullTimeout bounds each PullFrame (default 100ms)
	PullTimeout time.Duration
	// Report receives failures observed outside the caller's goroutine
	Report ReportFunc
}

// CameraCapture pulls I420 frames from a CameraDevice and pushes them synchronously to
// a VideoPusher at the cadence enforced by the capture graph.
//
// State machine:
//
//	Stopped → Configuring → Stopped   (Configure)
//	Stopped → Running                 (Start)
//	Running → Stopping → Stopped      (Stop)
//	Running → Stopped                 (end of stream or structural device error)
//
// Reconfiguration requires Stopped; there is no on-the-fly camera swap.
type CameraCapture struct {
	dev    CameraDevice
	pusher VideoPusher
	cfg    CameraConfig

	mu         sync.Mutex // serialises Configure/Start/Stop
	state      atomic.Int32
	camera     media.CameraDescriptor
	configured bool
	cancel     context.CancelFunc
	done       chan struct{}

	// Statistics (atomic for thread-safety)
	frameCount      atomic.Uint64
	pushErrors      atomic.Uint64
	timeouts        atomic.Uint64
	transientErrors atomic.Uint64
	runFrames       atomic.Uint64
	startedAt       atomic.Int64 // unix nanos of the current run
	lastFrameAt     atomic.Int64 // unix nanos

	// tap receives frame timestamps while Warmup is measuring
	tap atomic.Pointer[chan time.Time]
}

// NewCameraCapture creates a camera worker with fail-fast validation.
func NewCameraCapture(dev CameraDevice, pusher VideoPusher, cfg CameraConfig) (*CameraCapture, error) {
	if dev == nil {
		return nil, fmt.Errorf("stream-capture: camera device is required")
	}
	if pusher == nil {
		return nil, fmt.Errorf("stream-capture: video pusher is required")
	}
	if cfg.Format == (VideoFormat{}) {
		cfg.Format = DefaultVideoFormat
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}

	return &CameraCapture{dev: dev, pusher: pusher, cfg: cfg}, nil
}

// Configure builds the capture graph for camera. Only legal while stopped.
//
// A build failure is returned as *media.PipelineBuildError and reported once; the
// worker stays Stopped and unconfigured until a later Configure succeeds.
func (c *CameraCapture) Configure(camera media.CameraDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reapLocked()
	if State(c.state.Load()) != StateStopped || c.done != nil {
		return media.ErrNotStopped
	}

	c.state.Store(int32(StateConfiguring))
	defer c.state.Store(int32(StateStopped))

	slog.Info("stream-capture: configuring camera",
		"camera", camera.ID,
		"name", camera.Name,
		"format", c.cfg.Format.String(),
	)

	if err := c.dev.Build(camera, c.cfg.Format); err != nil {
		var pb *media.PipelineBuildError
		if !errors.As(err, &pb) {
			err = &media.PipelineBuildError{Description: camera.String(), Err: err}
		}
		c.configured = false
		slog.Error("stream-capture: camera pipeline build failed", "camera", camera.ID, "error", err)
		c.report(err)
		return err
	}

	c.camera = camera
	c.configured = true
	return nil
}

// Start opens the device and spawns exactly one capture goroutine.
//
// Idempotent while running. On open failure the error is reported, returned as a
// *media.DeviceOpenError, and the worker stays Stopped.
func (c *CameraCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reapLocked()
	switch State(c.state.Load()) {
	case StateRunning:
		return nil
	case StateStopped:
	default:
		return media.ErrNotStopped
	}
	if !c.configured {
		return media.ErrNotConfigured
	}

	if c.done != nil {
		// A leaked goroutine from a timed-out Stop still holds the device.
		err := &media.DeviceOpenError{Device: c.camera.String(), Err: ErrLoopStillRunning}
		c.report(err)
		return err
	}

	if err := c.dev.Open(); err != nil {
		if !media.IsStructural(err) {
			err = &media.DeviceOpenError{Device: c.camera.String(), Err: err}
		}
		slog.Error("stream-capture: camera open failed", "camera", c.camera.ID, "error", err)
		c.report(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.runFrames.Store(0)
	c.lastFrameAt.Store(0)
	c.startedAt.Store(time.Now().UnixNano())
	c.state.Store(int32(StateRunning))

	go c.run(runCtx, done, c.camera)

	slog.Info("stream-capture: camera capture started",
		"camera", c.camera.ID,
		"format", c.cfg.Format.String(),
	)
	return nil
}

// run is the capture goroutine. It owns the device until it returns.
func (c *CameraCapture) run(ctx context.Context, done chan struct{}, camera media.CameraDescriptor) {
	var failure error
	defer func() {
		if err := c.dev.Close(); err != nil {
			slog.Warn("stream-capture: camera close failed", "camera", camera.ID, "error", err)
		}
		if failure != nil {
			// Close precedes the report: a restart triggered by it must find the device free.
			c.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
			close(done)
			c.report(failure)
			return
		}
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := c.dev.PullFrame(c.cfg.PullTimeout)
		switch {
		case err == nil:
		case errors.Is(err, media.ErrNoSample):
			c.timeouts.Add(1)
			continue
		case errors.Is(err, io.EOF):
			if ctx.Err() != nil {
				return
			}
			slog.Warn("stream-capture: camera end of stream",
				"camera", camera.ID,
				"frames_processed", c.runFrames.Load(),
			)
			failure = fmt.Errorf("stream-capture: end of stream on %s: %w", camera, err)
			return
		case media.IsStructural(err):
			slog.Error("stream-capture: camera device failed", "camera", camera.ID, "error", err)
			failure = err
			return
		default:
			c.transientErrors.Add(1)
			slog.Debug("stream-capture: transient pull error", "camera", camera.ID, "error", err)
			continue
		}

		now := time.Now()
		frame.Seq = c.frameCount.Add(1)
		frame.TimestampUS = media.NowUS()
		frame.TraceID = uuid.New().String()
		c.runFrames.Add(1)
		c.lastFrameAt.Store(now.UnixNano())

		if err := c.pusher.PushVideoFrame(frame); err != nil {
			c.pushErrors.Add(1)
			slog.Debug("stream-capture: engine rejected frame",
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", err,
			)
		}

		if tap := c.tap.Load(); tap != nil {
			select {
			case *tap <- now:
			default:
			}
		}
	}
}

// Stop cancels the capture goroutine and joins it within JoinTimeout.
//
// Idempotent - returns nil when already stopped. Exceeding the deadline returns a
// *media.JoinTimeoutError (also reported); the goroutine closes the device whenever it
// finally exits and Start refuses to reopen until it has.
func (c *CameraCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		slog.Debug("stream-capture: camera not started, nothing to stop")
		return nil
	}

	c.state.Store(int32(StateStopping))
	defer c.state.Store(int32(StateStopped))

	slog.Info("stream-capture: stopping camera capture", "camera", c.camera.ID)
	c.cancel()
	c.cancel = nil

	select {
	case <-c.done:
		c.done = nil
	case <-time.After(c.cfg.JoinTimeout):
		err := &media.JoinTimeoutError{Worker: "camera-capture", Timeout: c.cfg.JoinTimeout}
		slog.Error("stream-capture: stop timeout exceeded, capture goroutine still running",
			"camera", c.camera.ID,
			"timeout", c.cfg.JoinTimeout,
		)
		c.report(err)
		return err
	}

	slog.Info("stream-capture: camera capture stopped",
		"camera", c.camera.ID,
		"frames_captured", c.runFrames.Load(),
		"uptime", time.Since(time.Unix(0, c.startedAt.Load())),
	)
	return nil
}

// reapLocked clears bookkeeping left by a goroutine that already exited, either on its
// own (end of stream) or after a timed-out Stop. Caller holds mu.
func (c *CameraCapture) reapLocked() {
	if c.done == nil {
		return
	}
	select {
	case <-c.done:
	default:
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.done = nil
	c.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
}

// State returns the current lifecycle state.
func (c *CameraCapture) State() State {
	return State(c.state.Load())
}

// IsCapturing reports whether the capture goroutine is running.
func (c *CameraCapture) IsCapturing() bool {
	return c.State() == StateRunning
}

// Camera returns the configured camera.
func (c *CameraCapture) Camera() media.CameraDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera
}

// Stats returns current capture statistics. Thread-safe.
func (c *CameraCapture) Stats() CameraStats {
	c.mu.Lock()
	cameraID := c.camera.ID
	c.mu.Unlock()

	stats := CameraStats{
		State:           c.State(),
		Camera:          cameraID,
		FrameCount:      c.frameCount.Load(),
		RunFrames:       c.runFrames.Load(),
		PushErrors:      c.pushErrors.Load(),
		Timeouts:        c.timeouts.Load(),
		TransientErrors: c.transientErrors.Load(),
	}

	if started := c.startedAt.Load(); started != 0 && stats.State == StateRunning {
		stats.Uptime = time.Since(time.Unix(0, started))
		if secs := stats.Uptime.Seconds(); secs > 0 {
			stats.FPSReal = float64(c.runFrames.Load()) / secs
		}
	}
	if last := c.lastFrameAt.Load(); last != 0 {
		stats.LatencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}
	return stats
}

// Warmup measures frame cadence stability over duration while capture runs.
//
// Returns an error if the worker is not running, fewer than 2 frames arrived or the
// cadence is unstable. Frames keep flowing to the pusher during the measurement.
func (c *CameraCapture) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	if !c.IsCapturing() {
		return nil, fmt.Errorf("stream-capture: camera not started")
	}

	slog.Info("stream-capture: starting warmup",
		"duration", duration,
		"reason", "measure real FPS and verify stability",
	)

	ch := make(chan time.Time, 256)
	if !c.tap.CompareAndSwap(nil, &ch) {
		return nil, fmt.Errorf("stream-capture: warmup already in progress")
	}
	defer c.tap.Store(nil)

	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	frameTimes := make([]time.Time, 0, 128)

collect:
	for {
		select {
		case <-warmupCtx.Done():
			break collect
		case ts := <-ch:
			frameTimes = append(frameTimes, ts)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf(
			"stream-capture: not enough frames received during warmup (got %d, need at least 2)",
			len(frameTimes),
		)
	}

	stats := CalculateFPSStats(frameTimes, time.Since(start))

	slog.Info("stream-capture: warmup complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf(
			"stream-capture: warmup failed - camera FPS unstable (mean=%.2f, stddev=%.2f)",
			stats.FPSMean,
			stats.FPSStdDev,
		)
	}
	return stats, nil
}

func (c *CameraCapture) report(err error) {
	if c.cfg.Report != nil {
		c.cfg.Report("camera", err)
	}
}
