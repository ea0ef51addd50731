package streamcapture

import (
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// CameraDevice is the camera pipeline collaborator owned by a CameraCapture.
//
// Implementations must guarantee:
//   - Build does not touch the hardware; failures are *media.PipelineBuildError
//   - Open acquires the device; failures are *media.DeviceOpenError
//   - PullFrame returns media.ErrNoSample on timeout and io.EOF at end of stream
//   - a frame returned by PullFrame stays valid until the next PullFrame or Close
//   - Close is idempotent
//
// Only the capture goroutine calls PullFrame and Close while running.
type CameraDevice interface {
	Build(camera media.CameraDescriptor, format VideoFormat) error
	Open() error
	PullFrame(timeout time.Duration) (*media.VideoFrame, error)
	Close() error
}

// MicrophoneDevice is the microphone collaborator owned by a MicrophoneCapture.
//
// Read returns whatever PCM bytes are available (possibly less than one frame),
// media.ErrNoSample on timeout, and io.EOF when the device went away.
type MicrophoneDevice interface {
	Open(format media.AudioFormat) error
	Read(timeout time.Duration) ([]byte, error)
	Close() error
	// Name identifies the device in logs and stats.
	Name() string
}

// VideoPusher receives captured frames. PushVideoFrame is called synchronously on the
// capture goroutine; the frame is only valid for the duration of the call.
type VideoPusher interface {
	PushVideoFrame(frame *media.VideoFrame) error
}

// AudioPusher receives captured 10ms chunks on the capture goroutine.
type AudioPusher interface {
	PushAudioFrame(chunk media.AudioChunk) error
}

// ReportFunc receives failures a worker cannot return to its caller: device open and
// build failures, end of stream, join timeouts. It must not block.
type ReportFunc func(source string, err error)

// VideoPusherFunc adapts a function to VideoPusher.
type VideoPusherFunc func(frame *media.VideoFrame) error

func (f VideoPusherFunc) PushVideoFrame(frame *media.VideoFrame) error { return f(frame) }

// AudioPusherFunc adapts a function to AudioPusher.
type AudioPusherFunc func(chunk media.AudioChunk) error

func (f AudioPusherFunc) PushAudioFrame(chunk media.AudioChunk) error { return f(chunk) }
