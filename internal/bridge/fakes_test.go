package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-kiosk-bridge/internal/config"
	"github.com/e7canasta/orion-kiosk-bridge/internal/engine"
	audiorender "github.com/e7canasta/orion-kiosk-bridge/modules/audio-render"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	streamcapture "github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture"
)

type fakeEnumerator struct {
	capture  []media.DeviceInfo
	playback []media.DeviceInfo
	cameras  []media.CameraDescriptor
}

func (e *fakeEnumerator) ListCaptureDevices(context.Context) ([]media.DeviceInfo, error) {
	return e.capture, nil
}

func (e *fakeEnumerator) ListPlaybackDevices(context.Context) ([]media.DeviceInfo, error) {
	return e.playback, nil
}

func (e *fakeEnumerator) ListCameras(context.Context) ([]media.CameraDescriptor, error) {
	return e.cameras, nil
}

// fakeCamera produces frames whose luma is a marker identifying the built camera.
type fakeCamera struct {
	mu      sync.Mutex
	camera  media.CameraDescriptor
	format  streamcapture.VideoFormat
	open    bool
	openErr error
	hang    chan struct{} // PullFrame blocks on it when non-nil
	opens   atomic.Int32
}

func marker(c media.CameraDescriptor) byte {
	if c.Kind == media.CameraCSI {
		return 1
	}
	return byte(10 + c.Index)
}

func (f *fakeCamera) Build(c media.CameraDescriptor, format streamcapture.VideoFormat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.camera, f.format = c, format
	return nil
}

func (f *fakeCamera) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	if f.open {
		return errors.New("device busy")
	}
	f.open = true
	f.opens.Add(1)
	return nil
}

func (f *fakeCamera) PullFrame(time.Duration) (*media.VideoFrame, error) {
	f.mu.Lock()
	hang := f.hang
	c, format := f.camera, f.format
	f.mu.Unlock()

	if hang != nil {
		<-hang
	}
	time.Sleep(5 * time.Millisecond)

	frame := media.NewI420Frame(format.Width, format.Height)
	for i := range frame.Planes[0].Data {
		frame.Planes[0].Data[i] = marker(c)
	}
	return frame, nil
}

func (f *fakeCamera) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *fakeCamera) setOpenErr(err error) {
	f.mu.Lock()
	f.openErr = err
	f.mu.Unlock()
}

func (f *fakeCamera) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type fakeMic struct {
	name string
	open atomic.Bool
}

func (m *fakeMic) Open(media.AudioFormat) error { m.open.Store(true); return nil }

func (m *fakeMic) Read(time.Duration) ([]byte, error) {
	time.Sleep(2 * time.Millisecond)
	return make([]byte, 320), nil
}

func (m *fakeMic) Close() error { m.open.Store(false); return nil }
func (m *fakeMic) Name() string { return m.name }

type fakeSpeaker struct {
	name   string
	open   atomic.Bool
	writes atomic.Int32
}

func (s *fakeSpeaker) Open(media.AudioFormat) error { s.open.Store(true); return nil }
func (s *fakeSpeaker) Write([]byte) error           { s.writes.Add(1); return nil }
func (s *fakeSpeaker) Close() error                 { s.open.Store(false); return nil }

// recordingEngine is a loopback that remembers the marker of every frame pushed to it.
type recordingEngine struct {
	*engine.Loopback

	mu      sync.Mutex
	markers []byte
	block   chan struct{} // PushVideoFrame blocks on it when non-nil
}

func (e *recordingEngine) PushVideoFrame(frame *media.VideoFrame) error {
	e.mu.Lock()
	block := e.block
	e.markers = append(e.markers, frame.Planes[0].Data[0])
	e.mu.Unlock()
	if block != nil {
		<-block
	}
	return e.Loopback.PushVideoFrame(frame)
}

func (e *recordingEngine) resetMarkers() {
	e.mu.Lock()
	e.markers = nil
	e.mu.Unlock()
}

func (e *recordingEngine) seen() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.markers...)
}

type harness struct {
	bridge  *Bridge
	cfg     *config.Config
	enum    *fakeEnumerator
	camera  *fakeCamera
	mic     *fakeMic
	speaker *fakeSpeaker
	engine  *recordingEngine
}

func newHarness(t *testing.T, tweak func(*config.Config, *fakeEnumerator)) *harness {
	t.Helper()

	cfg, err := config.Default("test-kiosk")
	require.NoError(t, err)
	cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS = 16, 16, 30
	cfg.Video.Preview = true

	h := &harness{
		cfg: cfg,
		enum: &fakeEnumerator{
			capture:  []media.DeviceInfo{{Name: "HDMI", ID: "hw:0,0"}, {Name: "USB PnP Audio", ID: "hw:2,0"}},
			playback: []media.DeviceInfo{{Name: "bcm2835 Headphones", ID: "hw:1,0"}, {Name: "USB PnP Audio", ID: "hw:2,0"}},
			cameras:  []media.CameraDescriptor{media.CSICamera("CSI Camera"), media.USBCamera(2, "UVC Camera (video2)")},
		},
		camera: &fakeCamera{},
		engine: &recordingEngine{Loopback: engine.NewLoopback()},
	}
	if tweak != nil {
		tweak(cfg, h.enum)
	}

	b, err := New(cfg, Options{
		Engine:     h.engine,
		Enumerator: h.enum,
		Devices: Devices{
			Camera: h.camera,
			Microphone: func(id string) streamcapture.MicrophoneDevice {
				h.mic = &fakeMic{name: id}
				return h.mic
			},
			Speaker: func(id string) audiorender.PlaybackDevice {
				h.speaker = &fakeSpeaker{name: id}
				return h.speaker
			},
		},
		SettleDelay: 20 * time.Millisecond,
		JoinTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	h.bridge = b
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.bridge.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.bridge.Shutdown(ctx)
	})
}

func drainEvents(b *Bridge) []Event {
	var out []Event
	for {
		select {
		case ev := <-b.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}
