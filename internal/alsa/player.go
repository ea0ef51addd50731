package alsa

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Player plays PCM through `aplay -D <device> -f S16_LE -r R -c C -t raw -q`.
type Player struct {
	device string

	mu    sync.Mutex
	proc  *process
	stdin io.WriteCloser
}

// NewPlayer creates a Player for device ("" selects "default").
func NewPlayer(device string) *Player {
	if device == "" {
		device = DefaultDevice
	}
	return &Player{device: device}
}

// Name returns the ALSA device identifier.
func (p *Player) Name() string { return p.device }

// Open starts aplay. Failures are *media.DeviceOpenError.
func (p *Player) Open(format media.AudioFormat) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc != nil {
		return &media.DeviceOpenError{Device: p.device, Err: errors.New("player already open")}
	}

	var stdin io.WriteCloser
	proc, err := startProcess(playBinary, pcmArgs(p.device, format), func(cmd *exec.Cmd) error {
		var err error
		stdin, err = cmd.StdinPipe()
		return err
	}, nil)
	if err != nil {
		return &media.DeviceOpenError{Device: p.device, Err: err}
	}

	p.proc, p.stdin = proc, stdin
	slog.Info("alsa: player started", "device", p.device, "format", format.String(), "pid", proc.cmd.Process.Pid)
	return nil
}

// Write blocks until aplay accepted all of data. Writes after aplay exited fail.
func (p *Player) Write(data []byte) error {
	p.mu.Lock()
	stdin, proc := p.stdin, p.proc
	p.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("alsa: player %s not open", p.device)
	}
	if _, err := stdin.Write(data); err != nil {
		if msg := proc.stderr.String(); msg != "" {
			return fmt.Errorf("alsa: aplay %s: %s: %w", p.device, msg, err)
		}
		return fmt.Errorf("alsa: aplay %s: %w", p.device, err)
	}
	return nil
}

// Close flushes and stops aplay. Idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	proc, stdin := p.proc, p.stdin
	p.proc, p.stdin = nil, nil
	p.mu.Unlock()

	if proc == nil {
		return nil
	}
	// EOF on stdin lets aplay drain its buffer and exit on its own.
	_ = stdin.Close()
	err := proc.stop()
	slog.Info("alsa: player stopped", "device", p.device)
	return err
}
