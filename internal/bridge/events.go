package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	streamcapture "github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture"
)

// EventKind classifies bridge events.
type EventKind string

const (
	KindCameraError    EventKind = "camera_error"
	KindAudioError     EventKind = "audio_error"
	KindRenderError    EventKind = "render_error"
	KindEngineError    EventKind = "engine_error"
	KindState          EventKind = "state"
	KindCameraSwitched EventKind = "camera_switched"
	KindLeak           EventKind = "leak"
)

// Event is a human-readable notification for the UI and the control plane.
type Event struct {
	ID      string    `json:"id" msgpack:"id"`
	Kind    EventKind `json:"kind" msgpack:"kind"`
	Source  string    `json:"source" msgpack:"source"`
	Message string    `json:"message" msgpack:"message"`
	Time    time.Time `json:"time" msgpack:"time"`
}

// Report sources used by the workers and the engine.
const (
	sourceCamera     = "camera"
	sourceMicrophone = "microphone"
	sourceRender     = "render"
	sourceEngine     = "engine"
)

func kindFor(source string) EventKind {
	switch source {
	case sourceCamera:
		return KindCameraError
	case sourceMicrophone:
		return KindAudioError
	case sourceRender:
		return KindRenderError
	default:
		return KindEngineError
	}
}

// describe turns a worker failure into one line for a person standing at the kiosk.
func describe(source string, err error) string {
	device := map[string]string{
		sourceCamera:     "Camera",
		sourceMicrophone: "Microphone",
		sourceRender:     "Speaker",
		sourceEngine:     "Call engine",
	}[source]
	if device == "" {
		device = source
	}

	var (
		open  *media.DeviceOpenError
		build *media.PipelineBuildError
		join  *media.JoinTimeoutError
	)
	switch {
	case errors.As(err, &join):
		return fmt.Sprintf("%s did not shut down in time and may still be held open", device)
	case errors.Is(err, streamcapture.ErrLoopStillRunning):
		return fmt.Sprintf("%s is still being released, try again shortly", device)
	case errors.As(err, &build):
		return fmt.Sprintf("%s could not be set up (%s)", device, build.Description)
	case errors.As(err, &open):
		return fmt.Sprintf("%s %s is busy or disconnected", device, open.Device)
	case errors.Is(err, io.EOF):
		return fmt.Sprintf("%s stopped unexpectedly", device)
	default:
		return fmt.Sprintf("%s error: %v", device, err)
	}
}

// emit publishes an event to every subscriber without blocking.
func (b *Bridge) emit(kind EventKind, source, message string) {
	ev := Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Source:  source,
		Message: message,
		Time:    time.Now(),
	}
	b.events.Publish(ev)
	slog.Info("bridge: event", "kind", kind, "source", source, "message", message)
}

// Report receives failures from workers and the engine.
//
// Join timeouts are always emitted and counted; reaching cfg.MaxJoinTimeouts makes Run
// return. Other failures produce one event per source until that source starts
// successfully again.
func (b *Bridge) Report(source string, err error) {
	if err == nil {
		return
	}

	var join *media.JoinTimeoutError
	if errors.As(err, &join) {
		n := int(b.joinTimeouts.Add(1))
		b.emit(KindLeak, source, describe(source, err))
		if n >= b.cfg.MaxJoinTimeouts {
			select {
			case b.fatal <- fmt.Errorf("bridge: %d join timeouts, last: %w", n, err):
			default:
			}
		}
		return
	}

	b.evMu.Lock()
	if b.failing[source] {
		b.evMu.Unlock()
		b.suppressed.Add(1)
		slog.Debug("bridge: repeated failure suppressed", "source", source, "error", err)
		return
	}
	b.failing[source] = true
	b.evMu.Unlock()

	b.emit(kindFor(source), source, describe(source, err))
}

// healthy re-arms failure events for source after a successful start.
func (b *Bridge) healthy(source string) {
	b.evMu.Lock()
	delete(b.failing, source)
	b.evMu.Unlock()
}
