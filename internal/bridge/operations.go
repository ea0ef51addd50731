package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/internal/engine"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// StartAll starts render, microphone and camera, in that order, so the first remote
// audio and the first captured frame both have somewhere to go.
func (b *Bridge) StartAll() error {
	return errors.Join(b.StartRender(), b.StartAudio(), b.StartVideo())
}

// StopAll stops camera, microphone and render. Every worker is stopped even if an
// earlier one failed.
func (b *Bridge) StopAll() error {
	return errors.Join(b.StopVideo(), b.StopAudio(), b.StopRender())
}

// StartVideo starts camera capture with the configured camera.
func (b *Bridge) StartVideo() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startVideoLocked()
}

func (b *Bridge) startVideoLocked() error {
	if b.runCtx == nil {
		return ErrNotStarted
	}
	if b.current.ID == "" {
		return ErrNoCamera
	}
	if b.camera.IsCapturing() {
		return nil
	}
	if err := b.camera.Start(b.runCtx); err != nil {
		return err
	}
	b.healthy(sourceCamera)
	b.emit(KindState, sourceCamera, fmt.Sprintf("Camera %s on", cameraLabel(b.current)))
	return nil
}

// StopVideo stops camera capture. Idempotent.
func (b *Bridge) StopVideo() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasCapturing := b.camera.IsCapturing()
	if err := b.camera.Stop(); err != nil {
		return err
	}
	if wasCapturing {
		b.emit(KindState, sourceCamera, "Camera off")
	}
	return nil
}

// IsVideoCapturing reports whether the camera goroutine is running.
func (b *Bridge) IsVideoCapturing() bool {
	return b.camera.IsCapturing()
}

// StartAudio starts microphone capture.
func (b *Bridge) StartAudio() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mic == nil {
		return ErrNotStarted
	}
	if b.mic.IsCapturing() {
		return nil
	}
	if err := b.mic.Start(b.runCtx); err != nil {
		return err
	}
	b.healthy(sourceMicrophone)
	b.emit(KindState, sourceMicrophone, "Microphone on")
	return nil
}

// StopAudio stops microphone capture. Idempotent.
func (b *Bridge) StopAudio() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mic == nil {
		return nil
	}
	wasCapturing := b.mic.IsCapturing()
	if err := b.mic.Stop(); err != nil {
		return err
	}
	b.audioRing.Reset()
	if wasCapturing {
		b.emit(KindState, sourceMicrophone, "Microphone off")
	}
	return nil
}

// StartRender starts speaker playback.
func (b *Bridge) StartRender() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.render == nil {
		return ErrNotStarted
	}
	if b.render.IsRendering() {
		return nil
	}
	if err := b.render.Start(b.runCtx); err != nil {
		return err
	}
	b.healthy(sourceRender)
	b.emit(KindState, sourceRender, "Speaker on")
	return nil
}

// StopRender stops speaker playback. Idempotent.
func (b *Bridge) StopRender() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.render == nil {
		return nil
	}
	wasRendering := b.render.IsRendering()
	if err := b.render.Stop(); err != nil {
		return err
	}
	if wasRendering {
		b.emit(KindState, sourceRender, "Speaker off")
	}
	return nil
}

// SetCamera switches to the camera with the given id.
//
// The previous capture state is preserved: a running camera is stopped, the device is
// given SettleDelay to release, the new camera is configured and capture restarts only
// if it was running before. Frames captured by the old camera that are still queued
// are discarded.
func (b *Bridge) SetCamera(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return ErrNotStarted
	}

	var (
		target media.CameraDescriptor
		found  bool
	)
	for _, c := range b.cameras {
		if c.ID == id {
			target, found = c, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownCamera, id)
	}
	if target.ID == b.current.ID && b.camera.IsCapturing() {
		return nil
	}

	wasCapturing := b.camera.IsCapturing()
	slog.Info("bridge: switching camera",
		"from", b.current.ID,
		"to", target.ID,
		"was_capturing", wasCapturing,
	)

	if err := b.camera.Stop(); err != nil {
		return fmt.Errorf("bridge: stop %s: %w", b.current.ID, err)
	}
	b.epoch.Add(1)
	b.local.Release()

	select {
	case <-time.After(b.opts.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := b.camera.Configure(target); err != nil {
		b.current = media.CameraDescriptor{}
		return err
	}
	b.current = target
	b.healthy(sourceCamera)

	if wasCapturing {
		if err := b.camera.Start(b.runCtx); err != nil {
			return err
		}
	}

	b.emit(KindCameraSwitched, sourceCamera, fmt.Sprintf("Switched to %s", cameraLabel(target)))
	return nil
}

// Cameras returns the cameras detected at Start or by the last RefreshCameras.
func (b *Bridge) Cameras() []media.CameraDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]media.CameraDescriptor(nil), b.cameras...)
}

// RefreshCameras re-runs camera detection without touching the active camera.
func (b *Bridge) RefreshCameras(ctx context.Context) ([]media.CameraDescriptor, error) {
	cams, err := b.opts.Enumerator.ListCameras(ctx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.cameras = cams
	b.mu.Unlock()
	return append([]media.CameraDescriptor(nil), cams...), nil
}

// SetMicVolume sets the capture volume (clamped to 0-100).
func (b *Bridge) SetMicVolume(v int) {
	v = media.ClampVolume(v)
	b.micVolume.Store(int32(v))
	b.mu.Lock()
	mic := b.mic
	b.mu.Unlock()
	if mic != nil {
		mic.SetVolume(v)
	}
}

// SetSpeakerVolume sets the playback volume (clamped to 0-100).
func (b *Bridge) SetSpeakerVolume(v int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.render == nil {
		return ErrNotStarted
	}
	b.render.SetVolume(v)
	return nil
}

// SetSpeakerMute mutes or unmutes playback.
func (b *Bridge) SetSpeakerMute(mute bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.render == nil {
		return ErrNotStarted
	}
	b.render.SetMute(mute)
	return nil
}

// Snapshot writes the latest frame of stream ("remote" or "local") as PNG.
func (b *Bridge) Snapshot(w io.Writer, stream string) error {
	switch stream {
	case engine.StreamRemote, "":
		return b.remote.Snapshot(w)
	case engine.StreamLocal:
		return b.local.Snapshot(w)
	default:
		return fmt.Errorf("bridge: unknown stream %q", stream)
	}
}

// Events returns the UI event channel. Events are dropped when it is full.
func (b *Bridge) Events() <-chan Event {
	return b.uiEvents
}

// SubscribeEvents adds another event consumer, such as the MQTT emitter.
func (b *Bridge) SubscribeEvents(id string, ch chan<- Event) error {
	return b.events.Subscribe(id, ch)
}

// UnsubscribeEvents detaches a consumer added with SubscribeEvents. The caller keeps
// ownership of its channel.
func (b *Bridge) UnsubscribeEvents(id string) error {
	return b.events.Unsubscribe(id)
}

func cameraLabel(c media.CameraDescriptor) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}
