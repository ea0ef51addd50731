package streamcapture

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a capture worker.
type State int32

const (
	// StateStopped means no capture goroutine is running
	StateStopped State = iota
	// StateConfiguring means a capture graph is being built
	StateConfiguring
	// StateRunning means the capture goroutine owns the device
	StateRunning
	// StateStopping means Stop is joining the capture goroutine
	StateStopping
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// VideoFormat is the raw format requested from the camera graph. Pixel format is always I420.
type VideoFormat struct {
	Width  int
	Height int
	FPS    int
}

// DefaultVideoFormat is 640x480 at 15 fps.
var DefaultVideoFormat = VideoFormat{Width: 640, Height: 480, FPS: 15}

// Validate checks the format is usable by the capture graph.
func (f VideoFormat) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("stream-capture: invalid resolution %dx%d", f.Width, f.Height)
	}
	if f.FPS < 1 || f.FPS > 60 {
		return fmt.Errorf("stream-capture: invalid FPS %d (must be 1-60)", f.FPS)
	}
	return nil
}

// String returns "WxH@F".
func (f VideoFormat) String() string {
	return fmt.Sprintf("%dx%d@%d", f.Width, f.Height, f.FPS)
}

const (
	// DefaultJoinTimeout bounds how long Stop waits for a capture goroutine
	DefaultJoinTimeout = 3 * time.Second
	// DefaultPullTimeout bounds each blocking device read
	DefaultPullTimeout = 100 * time.Millisecond
	// DefaultMaxLag is how far the microphone schedule may fall behind before it resyncs
	DefaultMaxLag = 100 * time.Millisecond
	// AudioFrameDuration is the microphone push granularity
	AudioFrameDuration = 10 * time.Millisecond
)

// CameraStats contains current camera capture statistics
type CameraStats struct {
	// State is the worker lifecycle state
	State State
	// Camera is the configured camera id ("CSI", "USB:N")
	Camera string
	// FrameCount is the number of frames pushed to the engine
	FrameCount uint64
	// RunFrames is the number of frames captured since the last Start
	RunFrames uint64
	// PushErrors counts frames the engine rejected
	PushErrors uint64
	// Timeouts counts pulls that returned no sample
	Timeouts uint64
	// TransientErrors counts recoverable read failures
	TransientErrors uint64
	// FPSReal is frames over uptime of the current run
	FPSReal float64
	// LatencyMS is the time since the last frame of the current run in milliseconds,
	// 0 until the run delivers one
	LatencyMS int64
	// Uptime of the current run
	Uptime time.Duration
}

// MicrophoneStats contains current microphone capture statistics
type MicrophoneStats struct {
	// IsCapturing is true while the capture goroutine runs
	IsCapturing bool
	// Device is the device name passed to Open
	Device string
	// FramesPushed is the number of 10ms frames pushed to the engine
	FramesPushed uint64
	// PushErrors counts frames the engine rejected
	PushErrors uint64
	// BytesRead is the total PCM bytes read from the device
	BytesRead uint64
	// ReadTimeouts counts reads that returned no data
	ReadTimeouts uint64
	// Resyncs counts schedule resynchronisations after a stall
	Resyncs uint64
	// OverflowBytes counts bytes discarded because the device outran the schedule
	OverflowBytes uint64
	// Volume is the current capture volume (0-100)
	Volume int
}

// WarmupStats contains frame cadence statistics collected during warm-up
type WarmupStats struct {
	// FramesReceived is the number of frames received during warm-up
	FramesReceived int
	// Duration is the actual warm-up duration
	Duration time.Duration
	// FPSMean is the mean FPS across all frames
	FPSMean float64
	// FPSStdDev is the standard deviation of FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// IsStable is true if FPS is stable (stddev < 15% of mean AND jitter < 20%)
	IsStable bool
	// JitterMean is the mean deviation from the expected frame interval (seconds)
	JitterMean float64
	// JitterStdDev is the standard deviation of the jitter (seconds)
	JitterStdDev float64
	// JitterMax is the worst single deviation (seconds)
	JitterMax float64
}
