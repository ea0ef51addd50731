// Package engine defines the RTC engine collaborator the bridge feeds and listens to.
//
// The bridge never talks to the network itself. Captured media is pushed into an
// Engine; decoded remote video comes back through registered VideoSinks and mixed
// playback audio through one AudioCallback. Two implementations ship here:
//
//   - Loopback echoes local media back to the bridge (self-test and tests)
//   - HostProcess drives the vendor RTC host binary over stdin/stdout
package engine

import (
	"errors"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Stream ids understood by RegisterVideoSink.
const (
	StreamLocal  = "local"
	StreamRemote = "remote"
)

// ErrClosed is returned by pushes after Close.
var ErrClosed = errors.New("engine: closed")

// VideoSink receives decoded frames. The frame is only valid for the duration of the call.
type VideoSink interface {
	OnFrame(frame *media.VideoFrame) error
}

// AudioCallback receives mixed playback audio. data is only valid for the duration of
// the call.
type AudioCallback interface {
	OnAudioFrame(data []byte, format media.AudioFormat) error
}

// Engine is the RTC engine as seen by the bridge.
//
// PushVideoFrame and PushAudioFrame must not retain their arguments past the call and
// must not block for long: they run on the bridge's outbound pumps.
type Engine interface {
	PushVideoFrame(frame *media.VideoFrame) error
	PushAudioFrame(chunk media.AudioChunk) error
	RegisterVideoSink(streamID string, sink VideoSink)
	RegisterAudioCallback(cb AudioCallback)
	Close() error
}

// ReportFunc receives failures observed on engine goroutines. It must not block.
type ReportFunc func(source string, err error)

// VideoSinkFunc adapts a function to VideoSink.
type VideoSinkFunc func(frame *media.VideoFrame) error

func (f VideoSinkFunc) OnFrame(frame *media.VideoFrame) error { return f(frame) }

// AudioCallbackFunc adapts a function to AudioCallback.
type AudioCallbackFunc func(data []byte, format media.AudioFormat) error

func (f AudioCallbackFunc) OnAudioFrame(data []byte, format media.AudioFormat) error {
	return f(data, format)
}
