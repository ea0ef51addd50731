// Package bridge wires capture, render and display workers to the RTC engine and owns
// their lifecycle.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/orion-kiosk-bridge/internal/alsa"
	"github.com/e7canasta/orion-kiosk-bridge/internal/config"
	"github.com/e7canasta/orion-kiosk-bridge/internal/engine"
	audiorender "github.com/e7canasta/orion-kiosk-bridge/modules/audio-render"
	"github.com/e7canasta/orion-kiosk-bridge/modules/devices"
	"github.com/e7canasta/orion-kiosk-bridge/modules/framebus"
	"github.com/e7canasta/orion-kiosk-bridge/modules/framering"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	streamcapture "github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture"
	videosink "github.com/e7canasta/orion-kiosk-bridge/modules/video-sink"
)

const (
	// DefaultSettleDelay separates closing one camera from opening the next
	DefaultSettleDelay = 100 * time.Millisecond
	// outboundAudioChunks bounds capture audio waiting for the engine (500ms)
	outboundAudioChunks = 50
	// uiEventBuffer is the depth of the Events channel
	uiEventBuffer = 64
)

var (
	// ErrNotStarted is returned by media operations before Start.
	ErrNotStarted = errors.New("bridge: not started")
	// ErrNoCamera is returned by StartVideo when no camera was detected.
	ErrNoCamera = errors.New("bridge: no camera available")
	// ErrUnknownCamera is returned by SetCamera for an id that was not detected.
	ErrUnknownCamera = errors.New("bridge: unknown camera")
)

// Devices builds the hardware collaborators. Microphone and Speaker receive the device
// id chosen by the selector (or the configured override).
type Devices struct {
	Camera     streamcapture.CameraDevice
	Microphone func(deviceID string) streamcapture.MicrophoneDevice
	Speaker    func(deviceID string) audiorender.PlaybackDevice
}

// Options carries the bridge collaborators.
type Options struct {
	Engine     engine.Engine
	Enumerator devices.Enumerator
	Devices    Devices
	// SettleDelay is the pause between camera close and reopen (default 100ms)
	SettleDelay time.Duration
	// JoinTimeout bounds every worker Stop (default 3s)
	JoinTimeout time.Duration
}

// outFrame is a captured frame tagged with the camera epoch it was captured in.
type outFrame struct {
	frame *media.VideoFrame
	epoch uint64
}

// Bridge owns the media workers of one kiosk.
//
// Captured video is cloned and published on a frame bus; an engine pump and an
// optional preview pump drain it, dropping frames captured before the latest camera
// switch. Captured audio goes through a drop-oldest ring drained by an audio pump.
// A stalled engine therefore never stalls capture.
type Bridge struct {
	cfg  *config.Config
	opts Options
	eng  engine.Engine

	mu        sync.Mutex // serialises media operations
	started   bool
	startedAt time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group

	camera *streamcapture.CameraCapture
	mic    *streamcapture.MicrophoneCapture
	render *audiorender.RenderWorker
	remote *videosink.SinkAdapter
	local  *videosink.SinkAdapter

	cameras   []media.CameraDescriptor
	current   media.CameraDescriptor
	selection devices.Selection
	micVolume atomic.Int32

	videoBus  framebus.Bus[outFrame]
	engineCh  chan outFrame
	previewCh chan outFrame
	epoch     atomic.Uint64
	audioRing *framering.Ring[media.AudioChunk]

	events   framebus.Bus[Event]
	uiEvents chan Event
	evMu     sync.Mutex
	failing  map[string]bool
	fatal    chan error

	joinTimeouts      atomic.Int32
	suppressed        atomic.Uint64
	staleFrames       atomic.Uint64
	engineVideoErrors atomic.Uint64
	engineAudioErrors atomic.Uint64
	previewErrors     atomic.Uint64
}

// New creates a bridge. Nothing touches hardware until Start.
func New(cfg *config.Config, opts Options) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bridge: config is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("bridge: engine is required")
	}
	if opts.Enumerator == nil {
		return nil, fmt.Errorf("bridge: enumerator is required")
	}
	if opts.Devices.Camera == nil || opts.Devices.Microphone == nil || opts.Devices.Speaker == nil {
		return nil, fmt.Errorf("bridge: camera, microphone and speaker factories are required")
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = streamcapture.DefaultJoinTimeout
	}

	b := &Bridge{
		cfg:      cfg,
		opts:     opts,
		eng:      opts.Engine,
		videoBus: framebus.New[outFrame](),
		engineCh: make(chan outFrame, 2),
		events:   framebus.New[Event](),
		uiEvents: make(chan Event, uiEventBuffer),
		failing:  make(map[string]bool),
		fatal:    make(chan error, 1),
	}
	b.micVolume.Store(int32(*cfg.Audio.MicVolume))

	if err := b.events.Subscribe("ui", b.uiEvents); err != nil {
		return nil, err
	}
	if err := b.videoBus.Subscribe("engine", b.engineCh); err != nil {
		return nil, err
	}
	if cfg.Video.Preview {
		b.previewCh = make(chan outFrame, 1)
		if err := b.videoBus.Subscribe("preview", b.previewCh); err != nil {
			return nil, err
		}
	}

	ring, err := framering.New[media.AudioChunk](outboundAudioChunks)
	if err != nil {
		return nil, err
	}
	b.audioRing = ring

	rng, err := videosink.ParseColorRange(cfg.Video.ColorRange)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	mode := videosink.ModeCPU
	if cfg.Video.GPU() {
		mode = videosink.ModeGPU
	}
	if b.remote, err = videosink.New(videosink.Config{Name: engine.StreamRemote, Mode: mode, ColorRange: rng}); err != nil {
		return nil, err
	}
	if b.local, err = videosink.New(videosink.Config{Name: engine.StreamLocal, Mode: mode, ColorRange: rng}); err != nil {
		return nil, err
	}

	b.camera, err = streamcapture.NewCameraCapture(opts.Devices.Camera, streamcapture.VideoPusherFunc(b.pushVideo),
		streamcapture.CameraConfig{
			Format: streamcapture.VideoFormat{
				Width:  cfg.Camera.Width,
				Height: cfg.Camera.Height,
				FPS:    cfg.Camera.FPS,
			},
			JoinTimeout: opts.JoinTimeout,
			Report:      b.Report,
		})
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	return b, nil
}

// Start selects devices, detects cameras, registers with the engine, launches the
// outbound pumps and starts every worker.
//
// Worker start failures are reported as events and do not fail Start: the kiosk keeps
// running with whatever works. Start fails only on misuse or setup errors.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bridge: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	b.runCtx, b.cancel, b.group = runCtx, cancel, group

	if err := b.setupAudioDevices(ctx); err != nil {
		cancel()
		b.mu.Unlock()
		return err
	}
	b.detectCameras(ctx)

	b.eng.RegisterVideoSink(engine.StreamRemote, b.remote)
	b.eng.RegisterAudioCallback(b.render)

	group.Go(func() error { return b.videoPump(gctx, b.engineCh, b.eng.PushVideoFrame, &b.engineVideoErrors) })
	if b.previewCh != nil {
		group.Go(func() error { return b.videoPump(gctx, b.previewCh, b.local.OnFrame, &b.previewErrors) })
	}
	group.Go(func() error { return b.audioPump(gctx) })
	group.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-b.fatal:
			slog.Error("bridge: fatal condition, stopping", "error", err)
			return err
		}
	})

	b.started = true
	b.startedAt = time.Now()
	b.mu.Unlock()

	slog.Info("bridge: started",
		"instance_id", b.cfg.InstanceID,
		"camera", b.current.ID,
		"capture_device", b.captureID(),
		"playback_device", b.playbackID(),
	)

	if err := b.StartAll(); err != nil {
		slog.Warn("bridge: some workers failed to start", "error", err)
	}
	return nil
}

// Wait blocks until the pumps exit: after Shutdown (nil) or a fatal condition (error).
func (b *Bridge) Wait() error {
	b.mu.Lock()
	g := b.group
	b.mu.Unlock()
	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

// Run is Start followed by Wait. It returns when ctx is cancelled or the bridge hits a
// fatal condition (repeated join timeouts).
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.Wait()
}

// setupAudioDevices enumerates ALSA devices, applies the selector and builds the
// microphone and render workers. Caller holds mu.
func (b *Bridge) setupAudioDevices(ctx context.Context) error {
	capture, err := b.opts.Enumerator.ListCaptureDevices(ctx)
	if err != nil {
		slog.Warn("bridge: capture device enumeration failed", "error", err)
	}
	playback, err := b.opts.Enumerator.ListPlaybackDevices(ctx)
	if err != nil {
		slog.Warn("bridge: playback device enumeration failed", "error", err)
	}
	b.selection = devices.NewSelector(b.cfg.Audio.Preferences...).SelectRoles(capture, playback)

	mic, err := streamcapture.NewMicrophoneCapture(
		b.opts.Devices.Microphone(b.captureID()),
		streamcapture.AudioPusherFunc(b.pushAudio),
		streamcapture.MicrophoneConfig{
			Volume:      intPtr(int(b.micVolume.Load())),
			JoinTimeout: b.opts.JoinTimeout,
			Report:      b.Report,
		})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	render, err := audiorender.New(b.opts.Devices.Speaker(b.playbackID()), audiorender.Config{
		QueueChunks: b.cfg.Audio.RenderQueueChunks,
		JoinTimeout: b.opts.JoinTimeout,
		Volume:      b.cfg.Audio.SpeakerVolume,
		Muted:       b.cfg.Audio.SpeakerMuted,
		Report:      b.Report,
	})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}

	b.mic, b.render = mic, render
	return nil
}

func (b *Bridge) captureID() string {
	if b.cfg.Audio.CaptureDevice != "" {
		return b.cfg.Audio.CaptureDevice
	}
	return b.selection.CaptureID(alsa.DefaultDevice)
}

func (b *Bridge) playbackID() string {
	if b.cfg.Audio.PlaybackDevice != "" {
		return b.cfg.Audio.PlaybackDevice
	}
	return b.selection.PlaybackID(alsa.DefaultDevice)
}

// detectCameras lists cameras and configures the preferred one. Caller holds mu.
func (b *Bridge) detectCameras(ctx context.Context) {
	cams, err := b.opts.Enumerator.ListCameras(ctx)
	if err != nil {
		slog.Warn("bridge: camera detection failed", "error", err)
	}
	b.cameras = cams

	cam, ok := devices.PickCamera(cams, b.cfg.Camera.PreferredID)
	if !ok {
		slog.Warn("bridge: no camera detected")
		b.Report(sourceCamera, fmt.Errorf("no camera detected: %w", ErrNoCamera))
		return
	}
	if err := b.camera.Configure(cam); err != nil {
		return
	}
	b.current = cam
}

// Shutdown stops every worker, drains the pumps and closes the engine. The context
// bounds the whole sequence.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	slog.Info("bridge: shutting down")

	// 1. Capture and render first: they feed and drain the pumps
	stopErr := b.StopAll()

	// 2. Pumps
	b.mu.Lock()
	b.cancel()
	b.audioRing.Close()
	group := b.group
	b.mu.Unlock()

	waited := make(chan error, 1)
	go func() { waited <- group.Wait() }()
	select {
	case <-waited:
	case <-ctx.Done():
		slog.Error("bridge: shutdown deadline exceeded waiting for pumps", "error", ctx.Err())
		return ctx.Err()
	}

	// 3. Engine
	b.eng.RegisterVideoSink(engine.StreamRemote, nil)
	b.eng.RegisterAudioCallback(nil)
	if err := b.eng.Close(); err != nil {
		slog.Error("bridge: engine close failed", "error", err)
		stopErr = errors.Join(stopErr, err)
	}

	// 4. Sinks and buses
	b.remote.Release()
	b.local.Release()
	_ = b.videoBus.Close()
	_ = b.events.Close()

	b.mu.Lock()
	uptime := time.Since(b.startedAt)
	b.started = false
	b.mu.Unlock()

	slog.Info("bridge: shutdown complete", "uptime", uptime)
	return stopErr
}

func intPtr(v int) *int { return &v }
