// Package alsa drives ALSA capture and playback through the arecord/aplay utilities.
//
// Each device is a child process speaking raw S16LE on stdin/stdout. Devices are named
// with ALSA identifiers ("hw:1,0", "default", "plughw:CARD=M1066").
package alsa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

const (
	recordBinary = "arecord"
	playBinary   = "aplay"

	// startupGrace is how long Open waits for the utility to fail on a busy or absent device.
	startupGrace = 200 * time.Millisecond

	// exitTimeout bounds Close waiting for the child to exit after SIGTERM.
	exitTimeout = time.Second
)

// DefaultDevice lets ALSA pick the device.
const DefaultDevice = "default"

// pcmArgs returns the raw-PCM argument list shared by arecord and aplay.
func pcmArgs(device string, format media.AudioFormat) []string {
	if device == "" {
		device = DefaultDevice
	}
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(format.SampleRate),
		"-c", strconv.Itoa(format.Channels),
		"-t", "raw",
		"-q",
	}
}

// process wraps a started arecord/aplay child and its stderr tail.
type process struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	exited chan struct{}
	err    error // valid after exited is closed
}

// startProcess starts binary. prepare runs before Start to attach pipes; drain, when
// non-nil, runs after Start and returns a channel closed once the stdout reader is done.
// cmd.Wait closes the pipes, so it only runs after drain has finished reading.
func startProcess(binary string, args []string, prepare func(*exec.Cmd) error, drain func() <-chan struct{}) (*process, error) {
	cmd := exec.Command(binary, args...)
	p := &process{cmd: cmd, stderr: &tailBuffer{max: 4096}, exited: make(chan struct{})}
	cmd.Stderr = p.stderr

	if prepare != nil {
		if err := prepare(cmd); err != nil {
			return nil, err
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var drained <-chan struct{}
	if drain != nil {
		drained = drain()
	}

	go func() {
		if drained != nil {
			<-drained
		}
		p.err = cmd.Wait()
		close(p.exited)
	}()

	// arecord/aplay exit almost immediately when the device is busy or absent.
	select {
	case <-p.exited:
		msg := strings.TrimSpace(p.stderr.String())
		if msg == "" && p.err != nil {
			msg = p.err.Error()
		}
		return nil, fmt.Errorf("%s exited during startup: %s", binary, msg)
	case <-time.After(startupGrace):
	}
	return p, nil
}

// stop terminates the child and waits at most exitTimeout before killing it.
func (p *process) stop() error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
		return nil
	case <-time.After(exitTimeout):
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill %s: %w", p.cmd.Path, err)
		}
		<-p.exited
		return nil
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// available reports whether binary is on PATH.
func available(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// RecordAvailable reports whether arecord can be executed.
func RecordAvailable() bool { return available(recordBinary) }

// PlayAvailable reports whether aplay can be executed.
func PlayAvailable() bool { return available(playBinary) }

func runList(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "-l").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s -l: %w: %s", binary, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%s -l: %w", binary, err)
	}
	return string(out), nil
}
