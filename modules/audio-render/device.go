package audiorender

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/e7canasta/orion-kiosk-bridge/internal/alsa"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// PlaybackDevice is the speaker collaborator owned by a RenderWorker.
//
// Write may block for roughly the play time of data. Only the render goroutine calls
// Write and Close while rendering.
type PlaybackDevice interface {
	Open(format media.AudioFormat) error
	Write(data []byte) error
	Close() error
}

// NewALSADevice returns an aplay-backed device for an ALSA id such as "hw:1,0".
func NewALSADevice(device string) PlaybackDevice {
	return alsa.NewPlayer(device)
}

// oto allows a single context per process; it is created on first Open and reused.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat media.AudioFormat
)

// OtoDevice plays through the platform audio stack via ebitengine/oto.
//
// A persistent oto player reads from an io.Pipe; Write feeds the pipe and blocks until
// oto consumed the bytes. The process-wide oto context is fixed to the format of the
// first Open; later Opens with a different format fail.
type OtoDevice struct {
	mu     sync.Mutex
	player *oto.Player
	pr     *io.PipeReader
	pw     *io.PipeWriter
}

// NewOtoDevice creates an oto playback device.
func NewOtoDevice() *OtoDevice {
	return &OtoDevice{}
}

// Open prepares the oto context and starts a persistent player.
func (d *OtoDevice) Open(format media.AudioFormat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player != nil {
		return nil
	}

	ctx, err := otoContext(format)
	if err != nil {
		return &media.DeviceOpenError{Device: "oto", Err: err}
	}
	if err := ctx.Resume(); err != nil {
		return &media.DeviceOpenError{Device: "oto", Err: err}
	}

	d.pr, d.pw = io.Pipe()
	d.player = ctx.NewPlayer(d.pr)
	d.player.Play()

	slog.Info("audio-render: oto player started", "format", format.String())
	return nil
}

func otoContext(format media.AudioFormat) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if format != otoFormat {
			return nil, fmt.Errorf("oto context already running at %s, cannot reopen at %s", otoFormat, format)
		}
		return otoCtx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("create oto context: %w", err)
	}
	<-ready

	otoCtx, otoFormat = ctx, format
	return ctx, nil
}

// Write feeds the persistent player. Blocks until the bytes were consumed.
func (d *OtoDevice) Write(data []byte) error {
	d.mu.Lock()
	pw := d.pw
	d.mu.Unlock()

	if pw == nil {
		return fmt.Errorf("audio-render: oto device not open")
	}
	if _, err := pw.Write(data); err != nil {
		return fmt.Errorf("audio-render: oto pipe write: %w", err)
	}
	return nil
}

// Close stops the player and suspends the shared context. Idempotent.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return nil
	}
	d.pw.Close()
	err := d.player.Close()
	d.pr.Close()
	d.player, d.pr, d.pw = nil, nil, nil

	otoMu.Lock()
	if otoCtx != nil {
		if serr := otoCtx.Suspend(); serr != nil && err == nil {
			err = serr
		}
	}
	otoMu.Unlock()
	return err
}
