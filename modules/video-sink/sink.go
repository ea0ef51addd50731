package videosink

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-kiosk-bridge/modules/framering"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Mode selects where YUV to RGB conversion happens.
type Mode int

const (
	// ModeCPU converts synchronously in OnFrame and stores an RGBImage.
	ModeCPU Mode = iota
	// ModeGPU copies I420 planes and hands them to the render goroutine for a shader.
	ModeGPU
)

// String returns "cpu" or "gpu".
func (m Mode) String() string {
	if m == ModeGPU {
		return "gpu"
	}
	return "cpu"
}

// gpuSlots is the hand-off ring size: one frame being uploaded, one waiting.
const gpuSlots = 2

// rejectLogEvery throttles rejected-frame warnings.
const rejectLogEvery = 100

// ErrNoFrame is returned by Snapshot before the first frame arrived.
var ErrNoFrame = errors.New("video-sink: no frame received yet")

// Config configures a SinkAdapter.
type Config struct {
	// Name identifies the sink in logs ("local", "remote")
	Name string
	// Mode selects CPU conversion or GPU plane hand-off
	Mode Mode
	// ColorRange is the luma range assumed by the CPU converter
	ColorRange ColorRange
}

// Stats is a snapshot of sink counters.
type Stats struct {
	Accepted    uint64
	Rejected    uint64
	Converted   uint64
	HandedOff   uint64
	Overwritten uint64
}

// SinkAdapter receives decoded frames from the engine and keeps the latest one for
// display.
//
// OnFrame is called synchronously on an engine thread. Errors are returned, logged and
// counted; nothing panics across the callback boundary.
type SinkAdapter struct {
	cfg Config

	mu      sync.Mutex
	current *RGBImage         // CPU mode
	latest  *media.VideoFrame // GPU mode, owned copy

	handoff *framering.Ring[*media.VideoFrame]

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	converted atomic.Uint64
	handedOff atomic.Uint64
}

// New creates a sink adapter.
func New(cfg Config) (*SinkAdapter, error) {
	if cfg.Mode != ModeCPU && cfg.Mode != ModeGPU {
		return nil, fmt.Errorf("video-sink: unknown mode %d", cfg.Mode)
	}
	if cfg.ColorRange != RangeLimited && cfg.ColorRange != RangeFull {
		return nil, fmt.Errorf("video-sink: unknown color range %d", cfg.ColorRange)
	}
	if cfg.Name == "" {
		cfg.Name = "video"
	}

	ring, err := framering.New[*media.VideoFrame](gpuSlots)
	if err != nil {
		return nil, err
	}
	return &SinkAdapter{cfg: cfg, handoff: ring}, nil
}

// Name returns the sink name.
func (s *SinkAdapter) Name() string { return s.cfg.Name }

// Mode returns the configured mode.
func (s *SinkAdapter) Mode() Mode { return s.cfg.Mode }

// OnFrame accepts one frame from the engine.
//
// Returns *media.FrameValidationError for nil, malformed or unsupported frames. GPU mode
// only accepts I420 since the shader samples three planes.
func (s *SinkAdapter) OnFrame(frame *media.VideoFrame) error {
	if err := frame.Validate(); err != nil {
		s.reject(frame, err)
		return err
	}

	switch s.cfg.Mode {
	case ModeGPU:
		if frame.Format != media.FormatI420 {
			err := &media.FrameValidationError{Reason: fmt.Sprintf("gpu sink needs I420, got %s", frame.Format)}
			s.reject(frame, err)
			return err
		}
		owned := frame.Clone()
		s.mu.Lock()
		s.latest = owned
		s.mu.Unlock()
		s.handoff.Push(owned)
		s.handedOff.Add(1)

	default:
		img, err := ConvertToRGB(frame, s.cfg.ColorRange)
		if err != nil {
			s.reject(frame, err)
			return err
		}
		s.mu.Lock()
		s.current = img
		s.mu.Unlock()
		s.converted.Add(1)
	}

	s.accepted.Add(1)
	return nil
}

func (s *SinkAdapter) reject(frame *media.VideoFrame, err error) {
	n := s.rejected.Add(1)
	if n == 1 || n%rejectLogEvery == 0 {
		attrs := []any{"sink", s.cfg.Name, "rejected_total", n, "error", err}
		if frame != nil {
			attrs = append(attrs, "seq", frame.Seq, "trace_id", frame.TraceID)
		}
		slog.Warn("video-sink: frame rejected", attrs...)
	}
}

// CurrentFrame returns the latest converted image, or nil before the first frame (the
// caller then shows a placeholder). CPU mode only; the image must not be modified.
func (s *SinkAdapter) CurrentFrame() *RGBImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// NextFrame blocks until the GPU hand-off ring holds a frame or ctx is done.
// Frames come out oldest first; at most two are pending.
func (s *SinkAdapter) NextFrame(ctx context.Context) (*media.VideoFrame, error) {
	return s.handoff.Pop(ctx)
}

// TryNextFrame returns a pending GPU frame without blocking.
func (s *SinkAdapter) TryNextFrame() (*media.VideoFrame, bool) {
	return s.handoff.TryPop()
}

// Release drops every held frame. Idempotent; the sink keeps accepting frames.
func (s *SinkAdapter) Release() {
	s.mu.Lock()
	s.current = nil
	s.latest = nil
	s.mu.Unlock()
	s.handoff.Reset()
	slog.Debug("video-sink: released", "sink", s.cfg.Name)
}

// Snapshot writes the latest frame as PNG. In GPU mode the retained planes are converted
// on demand.
func (s *SinkAdapter) Snapshot(w io.Writer) error {
	s.mu.Lock()
	img, latest := s.current, s.latest
	s.mu.Unlock()

	if img == nil && latest != nil {
		var err error
		if img, err = ConvertToRGB(latest, s.cfg.ColorRange); err != nil {
			return err
		}
	}
	if img == nil {
		return ErrNoFrame
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("video-sink: encode png: %w", err)
	}
	return nil
}

// Stats returns current sink counters. Thread-safe.
func (s *SinkAdapter) Stats() Stats {
	return Stats{
		Accepted:    s.accepted.Load(),
		Rejected:    s.rejected.Load(),
		Converted:   s.converted.Load(),
		HandedOff:   s.handedOff.Load(),
		Overwritten: s.handoff.Stats().Evicted,
	}
}
