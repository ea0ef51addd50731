package audiorender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/framering"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

const (
	// DefaultQueueChunks bounds the playback queue: 50 chunks of 10-20ms.
	DefaultQueueChunks = 50
	// DefaultInterval is the render loop period, matching the engine's 20ms callback.
	DefaultInterval = 20 * time.Millisecond
	// DefaultJoinTimeout bounds Stop.
	DefaultJoinTimeout = 3 * time.Second

	// peakLogEvery logs the played peak level once per second of 20ms chunks.
	peakLogEvery = 50
	// idleLogEvery logs an empty queue once per 10s of idle iterations.
	idleLogEvery = 500
	// maxWriteFailures consecutive failed writes mean the sink is gone.
	maxWriteFailures = 25
)

// Config configures a RenderWorker.
type Config struct {
	// Format is the PCM format delivered by the engine (default 48 kHz stereo)
	Format media.AudioFormat
	// QueueChunks is the ring capacity (default 50)
	QueueChunks int
	// Interval is the render loop period (default 20ms)
	Interval time.Duration
	// JoinTimeout bounds Stop (default 3s)
	JoinTimeout time.Duration
	// Volume is the initial volume 0-100 (default 100)
	Volume *int
	// Muted is the initial mute state
	Muted bool
	// Report receives failures observed off the caller's goroutine
	Report func(source string, err error)
}

// Stats is a snapshot of render counters.
type Stats struct {
	IsRendering    bool
	Received       uint64
	Rejected       uint64
	Ignored        uint64 // arrived while not rendering
	Evicted        uint64
	Played         uint64
	MutedDiscarded uint64
	WriteErrors    uint64
	Queued         int
	LastPeak       int
	Volume         int
	Muted          bool
}

// RenderWorker plays engine audio through a PlaybackDevice.
//
// OnAudioFrame copies each payload into a drop-oldest ring. The render goroutine pops at
// most one chunk per interval; muted chunks are discarded without writing anything, so
// mute produces silence by absence of output.
type RenderWorker struct {
	dev  PlaybackDevice
	cfg  Config
	ring *framering.Ring[media.AudioChunk]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	rendering atomic.Bool
	volume    atomic.Int32
	muted     atomic.Bool

	received       atomic.Uint64
	rejected       atomic.Uint64
	ignored        atomic.Uint64
	played         atomic.Uint64
	mutedDiscarded atomic.Uint64
	writeErrors    atomic.Uint64
	lastPeak       atomic.Int32
}

// New creates a render worker with fail-fast validation.
func New(dev PlaybackDevice, cfg Config) (*RenderWorker, error) {
	if dev == nil {
		return nil, fmt.Errorf("audio-render: playback device is required")
	}
	if cfg.Format == (media.AudioFormat{}) {
		cfg.Format = media.PlaybackFormat
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.Channels <= 0 {
		return nil, fmt.Errorf("audio-render: invalid format %s", cfg.Format)
	}
	if cfg.QueueChunks <= 0 {
		cfg.QueueChunks = DefaultQueueChunks
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}

	ring, err := framering.New[media.AudioChunk](cfg.QueueChunks)
	if err != nil {
		return nil, fmt.Errorf("audio-render: %w", err)
	}

	w := &RenderWorker{dev: dev, cfg: cfg, ring: ring}
	w.volume.Store(100)
	if cfg.Volume != nil {
		w.SetVolume(*cfg.Volume)
	}
	w.muted.Store(cfg.Muted)
	return w, nil
}

// OnAudioFrame queues a copy of data. Safe to call from any goroutine; never blocks
// beyond the ring's enqueue lock.
//
// Payloads that are empty, not a whole number of S16LE frames or in a format other than
// the configured one are rejected with *media.FrameValidationError. Frames arriving
// while the worker is not rendering are ignored.
func (w *RenderWorker) OnAudioFrame(data []byte, format media.AudioFormat) error {
	chunk := media.AudioChunk{Format: format, Data: data, TimestampUS: media.NowUS()}
	if err := chunk.Validate(); err != nil {
		w.rejected.Add(1)
		return err
	}
	if format != w.cfg.Format {
		w.rejected.Add(1)
		return &media.FrameValidationError{Reason: fmt.Sprintf("audio format %s, renderer expects %s", format, w.cfg.Format)}
	}
	if !w.rendering.Load() {
		w.ignored.Add(1)
		return nil
	}

	chunk.Data = append([]byte(nil), data...)
	w.received.Add(1)
	w.ring.Push(chunk)
	return nil
}

// Start opens the playback device and spawns the render goroutine. Idempotent.
//
// An open failure is reported, returned as *media.DeviceOpenError and leaves the worker
// stopped; Stop stays safe to call.
func (w *RenderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		select {
		case <-w.done:
			if w.cancel != nil {
				w.cancel()
			}
			w.cancel, w.done = nil, nil
		default:
			if w.cancel != nil {
				return nil
			}
			err := &media.DeviceOpenError{Device: "speaker", Err: errors.New("previous render loop still owns the device")}
			w.report(err)
			return err
		}
	}

	if err := w.dev.Open(w.cfg.Format); err != nil {
		var do *media.DeviceOpenError
		if !errors.As(err, &do) {
			err = &media.DeviceOpenError{Device: "speaker", Err: err}
		}
		slog.Error("audio-render: playback device open failed", "error", err)
		w.report(err)
		return err
	}

	w.ring.Reset()
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.rendering.Store(true)

	go w.run(runCtx, w.done)

	slog.Info("audio-render: render started",
		"format", w.cfg.Format.String(),
		"queue_chunks", w.cfg.QueueChunks,
		"volume", w.Volume(),
		"muted", w.Muted(),
	)
	return nil
}

func (w *RenderWorker) run(ctx context.Context, done chan struct{}) {
	var failure error
	defer func() {
		w.rendering.Store(false)
		if err := w.dev.Close(); err != nil {
			slog.Warn("audio-render: playback device close failed", "error", err)
		}
		close(done)
		if failure != nil {
			w.report(failure)
		}
	}()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	var idle, consecutiveFailures int
	for {
		if chunk, ok := w.ring.TryPop(); ok {
			idle = 0
			if err := w.play(chunk); err != nil {
				consecutiveFailures++
				if consecutiveFailures >= maxWriteFailures {
					slog.Error("audio-render: playback device lost", "error", err)
					failure = &media.DeviceOpenError{Device: "speaker", Err: err}
					return
				}
			} else {
				consecutiveFailures = 0
			}
		} else {
			idle++
			if idle%idleLogEvery == 0 {
				slog.Debug("audio-render: no audio in queue", "idle_iterations", idle)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// play writes one chunk unless muted.
func (w *RenderWorker) play(chunk media.AudioChunk) error {
	if w.muted.Load() {
		w.mutedDiscarded.Add(1)
		return nil
	}

	media.ScaleS16(chunk.Data, w.Volume())
	if err := w.dev.Write(chunk.Data); err != nil {
		w.writeErrors.Add(1)
		slog.Debug("audio-render: write failed", "bytes", len(chunk.Data), "error", err)
		return err
	}

	n := w.played.Add(1)
	if n%peakLogEvery == 0 {
		peak := media.PeakS16(chunk.Data)
		w.lastPeak.Store(int32(peak))
		slog.Debug("audio-render: played", "chunks", n, "bytes", len(chunk.Data), "peak", peak)
	}
	return nil
}

// Stop cancels the render goroutine and joins it within JoinTimeout. Idempotent.
func (w *RenderWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return nil
	}

	w.cancel()
	w.cancel = nil

	select {
	case <-w.done:
		w.done = nil
	case <-time.After(w.cfg.JoinTimeout):
		err := &media.JoinTimeoutError{Worker: "audio-render", Timeout: w.cfg.JoinTimeout}
		slog.Error("audio-render: stop timeout exceeded, render goroutine still running",
			"timeout", w.cfg.JoinTimeout,
		)
		w.report(err)
		return err
	}

	w.ring.Reset()
	slog.Info("audio-render: render stopped",
		"played", w.played.Load(),
		"muted_discarded", w.mutedDiscarded.Load(),
	)
	return nil
}

// IsRendering reports whether the render goroutine is running.
func (w *RenderWorker) IsRendering() bool { return w.rendering.Load() }

// SetVolume sets the playback volume, clamped to 0-100. Applies to the next chunk.
func (w *RenderWorker) SetVolume(v int) { w.volume.Store(int32(media.ClampVolume(v))) }

// Volume returns the playback volume.
func (w *RenderWorker) Volume() int { return int(w.volume.Load()) }

// SetMute sets the mute flag. Applies to the next chunk.
func (w *RenderWorker) SetMute(m bool) { w.muted.Store(m) }

// Muted returns the mute flag.
func (w *RenderWorker) Muted() bool { return w.muted.Load() }

// Stats returns current render statistics. Thread-safe.
func (w *RenderWorker) Stats() Stats {
	rs := w.ring.Stats()
	return Stats{
		IsRendering:    w.IsRendering(),
		Received:       w.received.Load(),
		Rejected:       w.rejected.Load(),
		Ignored:        w.ignored.Load(),
		Evicted:        rs.Evicted,
		Played:         w.played.Load(),
		MutedDiscarded: w.mutedDiscarded.Load(),
		WriteErrors:    w.writeErrors.Load(),
		Queued:         rs.Len,
		LastPeak:       int(w.lastPeak.Load()),
		Volume:         w.Volume(),
		Muted:          w.Muted(),
	}
}

func (w *RenderWorker) report(err error) {
	if w.cfg.Report != nil {
		w.cfg.Report("render", err)
	}
}
