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
)

// maxBufferedFrames caps the accumulation buffer. A device delivering faster than the
// push schedule loses its oldest audio instead of growing latency.
const maxBufferedFrames = 10

// MicrophoneConfig configures a MicrophoneCapture.
type MicrophoneConfig struct {
	// Volume is the initial capture volume 0-100 (default 100)
	Volume *int
	// JoinTimeout bounds Stop (default 3s)
	JoinTimeout time.Duration
	// ReadTimeout bounds each device read (default 100ms)
	ReadTimeout time.Duration
	// MaxLag is how far the schedule may fall behind before resyncing (default 100ms)
	MaxLag time.Duration
	// Report receives failures observed outside the caller's goroutine
	Report ReportFunc
}

// MicrophoneCapture reads 16 kHz mono S16LE from a MicrophoneDevice and pushes exactly
// one 10ms frame (320 bytes) per schedule slot.
//
// Pacing: every push is followed by a sleep until previousDeadline + 10ms, so output
// cadence tracks wall-clock time and not processing time. A stall longer than MaxLag
// moves the schedule to now instead of bursting the backlog.
type MicrophoneCapture struct {
	dev    MicrophoneDevice
	pusher AudioPusher
	cfg    MicrophoneConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	capturing atomic.Bool
	volume    atomic.Int32

	framesPushed  atomic.Uint64
	pushErrors    atomic.Uint64
	bytesRead     atomic.Uint64
	readTimeouts  atomic.Uint64
	resyncs       atomic.Uint64
	overflowBytes atomic.Uint64
}

// NewMicrophoneCapture creates a microphone worker.
func NewMicrophoneCapture(dev MicrophoneDevice, pusher AudioPusher, cfg MicrophoneConfig) (*MicrophoneCapture, error) {
	if dev == nil {
		return nil, fmt.Errorf("stream-capture: microphone device is required")
	}
	if pusher == nil {
		return nil, fmt.Errorf("stream-capture: audio pusher is required")
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadTimeout > DefaultPullTimeout {
		cfg.ReadTimeout = DefaultPullTimeout
	}
	if cfg.MaxLag <= 0 {
		cfg.MaxLag = DefaultMaxLag
	}

	m := &MicrophoneCapture{dev: dev, pusher: pusher, cfg: cfg}
	m.volume.Store(100)
	if cfg.Volume != nil {
		m.SetVolume(*cfg.Volume)
	}
	return m, nil
}

// SetVolume sets the capture volume, clamped to 0-100. Takes effect on the next frame.
func (m *MicrophoneCapture) SetVolume(v int) {
	m.volume.Store(int32(media.ClampVolume(v)))
}

// Volume returns the current capture volume.
func (m *MicrophoneCapture) Volume() int {
	return int(m.volume.Load())
}

// IsCapturing reports whether the capture goroutine is running.
func (m *MicrophoneCapture) IsCapturing() bool {
	return m.capturing.Load()
}

// Start opens the microphone and spawns the capture goroutine. Idempotent while running.
func (m *MicrophoneCapture) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		select {
		case <-m.done:
			// Previous run exited on its own (device lost) or after a timed-out Stop.
			if m.cancel != nil {
				m.cancel()
			}
			m.cancel, m.done = nil, nil
		default:
			if m.cancel != nil {
				return nil
			}
			err := &media.DeviceOpenError{Device: m.dev.Name(), Err: ErrLoopStillRunning}
			m.report(err)
			return err
		}
	}

	if err := m.dev.Open(media.CaptureFormat); err != nil {
		if !media.IsStructural(err) {
			err = &media.DeviceOpenError{Device: m.dev.Name(), Err: err}
		}
		slog.Error("stream-capture: microphone open failed", "device", m.dev.Name(), "error", err)
		m.report(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.capturing.Store(true)

	go m.run(runCtx, m.done)

	slog.Info("stream-capture: microphone capture started",
		"device", m.dev.Name(),
		"format", media.CaptureFormat.String(),
		"volume", m.Volume(),
	)
	return nil
}

func (m *MicrophoneCapture) run(ctx context.Context, done chan struct{}) {
	var failure error
	defer func() {
		if err := m.dev.Close(); err != nil {
			slog.Warn("stream-capture: microphone close failed", "device", m.dev.Name(), "error", err)
		}
		m.capturing.Store(false)
		close(done)
		if failure != nil {
			m.report(failure)
		}
	}()

	frameBytes := media.CaptureFormat.BytesFor(AudioFrameDuration)
	buf := make([]byte, 0, frameBytes*maxBufferedFrames)
	start := time.Now()
	next := start

	for ctx.Err() == nil {
		for len(buf) < frameBytes {
			if ctx.Err() != nil {
				return
			}
			data, err := m.dev.Read(m.cfg.ReadTimeout)
			switch {
			case err == nil:
			case errors.Is(err, media.ErrNoSample):
				m.readTimeouts.Add(1)
				continue
			case errors.Is(err, io.EOF), media.IsStructural(err):
				if ctx.Err() == nil {
					slog.Error("stream-capture: microphone read failed", "device", m.dev.Name(), "error", err)
					failure = fmt.Errorf("stream-capture: microphone %s: %w", m.dev.Name(), err)
				}
				return
			default:
				slog.Debug("stream-capture: transient microphone read error", "error", err)
				continue
			}

			m.bytesRead.Add(uint64(len(data)))
			buf = append(buf, data...)
			if limit := frameBytes * maxBufferedFrames; len(buf) > limit {
				// Keep frame alignment: drop whole frames from the front.
				excess := (len(buf) - limit + frameBytes - 1) / frameBytes * frameBytes
				m.overflowBytes.Add(uint64(excess))
				buf = append(buf[:0], buf[excess:]...)
			}
		}

		frame := make([]byte, frameBytes)
		copy(frame, buf[:frameBytes])
		buf = append(buf[:0], buf[frameBytes:]...)

		media.ScaleS16(frame, m.Volume())
		chunk := media.AudioChunk{
			Format:      media.CaptureFormat,
			Data:        frame,
			TimestampUS: time.Since(start).Microseconds(),
		}
		if err := m.pusher.PushAudioFrame(chunk); err != nil {
			m.pushErrors.Add(1)
			slog.Debug("stream-capture: engine rejected audio frame", "error", err)
		}
		m.framesPushed.Add(1)

		next = next.Add(AudioFrameDuration)
		if lag := time.Since(next); lag > m.cfg.MaxLag {
			m.resyncs.Add(1)
			slog.Debug("stream-capture: microphone schedule resynced", "lag", lag)
			next = time.Now()
		}
		if !sleepUntil(ctx, next) {
			return
		}
	}
}

// sleepUntil waits for deadline or ctx. Returns false if ctx ended first.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop cancels the capture goroutine and joins it within JoinTimeout. Idempotent.
func (m *MicrophoneCapture) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return nil
	}

	slog.Info("stream-capture: stopping microphone capture", "device", m.dev.Name())
	m.cancel()
	m.cancel = nil

	select {
	case <-m.done:
		m.done = nil
	case <-time.After(m.cfg.JoinTimeout):
		err := &media.JoinTimeoutError{Worker: "microphone-capture", Timeout: m.cfg.JoinTimeout}
		slog.Error("stream-capture: stop timeout exceeded, microphone goroutine still running",
			"device", m.dev.Name(),
			"timeout", m.cfg.JoinTimeout,
		)
		m.report(err)
		return err
	}

	slog.Info("stream-capture: microphone capture stopped",
		"frames_pushed", m.framesPushed.Load(),
		"resyncs", m.resyncs.Load(),
	)
	return nil
}

// Stats returns current capture statistics. Thread-safe.
func (m *MicrophoneCapture) Stats() MicrophoneStats {
	return MicrophoneStats{
		IsCapturing:   m.IsCapturing(),
		Device:        m.dev.Name(),
		FramesPushed:  m.framesPushed.Load(),
		PushErrors:    m.pushErrors.Load(),
		BytesRead:     m.bytesRead.Load(),
		ReadTimeouts:  m.readTimeouts.Load(),
		Resyncs:       m.resyncs.Load(),
		OverflowBytes: m.overflowBytes.Load(),
		Volume:        m.Volume(),
	}
}

func (m *MicrophoneCapture) report(err error) {
	if m.cfg.Report != nil {
		m.cfg.Report("microphone", err)
	}
}
