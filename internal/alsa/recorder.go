package alsa

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// readChunk is the size of each stdout read: 100ms of 16 kHz mono.
const readChunk = 3200

// Recorder captures PCM from `arecord -D <device> -f S16_LE -r R -c C -t raw -q`.
//
// A reader goroutine drains stdout into a channel so Read can honour a timeout. The
// channel holds about one second of audio; beyond that the reader blocks and arecord's
// own buffer overruns, which the capture worker sees as a gap.
type Recorder struct {
	device string

	mu   sync.Mutex
	proc *process
	data chan []byte
	errc chan error
	quit chan struct{}
}

// NewRecorder creates a Recorder for device ("" selects "default").
func NewRecorder(device string) *Recorder {
	if device == "" {
		device = DefaultDevice
	}
	return &Recorder{device: device}
}

// Name returns the ALSA device identifier.
func (r *Recorder) Name() string { return r.device }

// Open starts arecord. Failures are *media.DeviceOpenError.
func (r *Recorder) Open(format media.AudioFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil {
		return &media.DeviceOpenError{Device: r.device, Err: errors.New("recorder already open")}
	}

	data, errc, quit := make(chan []byte, 10), make(chan error, 1), make(chan struct{})

	var stdout io.ReadCloser
	proc, err := startProcess(recordBinary, pcmArgs(r.device, format), func(cmd *exec.Cmd) error {
		var err error
		stdout, err = cmd.StdoutPipe()
		return err
	}, func() <-chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			readLoop(stdout, data, errc, quit)
		}()
		return done
	})
	if err != nil {
		close(quit)
		return &media.DeviceOpenError{Device: r.device, Err: err}
	}

	r.proc, r.data, r.errc, r.quit = proc, data, errc, quit

	slog.Info("alsa: recorder started", "device", r.device, "format", format.String(), "pid", proc.cmd.Process.Pid)
	return nil
}

func readLoop(stdout io.Reader, data chan<- []byte, errc chan<- error, quit <-chan struct{}) {
	defer close(data)
	for {
		buf := make([]byte, readChunk)
		n, err := stdout.Read(buf)
		if n > 0 {
			select {
			case data <- buf[:n]:
			case <-quit:
				return
			}
		}
		if err != nil {
			// Wait closes the pipe once arecord exits; that is an end of stream too.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				errc <- err
			}
			return
		}
	}
}

// Read returns the next block of PCM, media.ErrNoSample after timeout, or io.EOF once
// arecord has exited.
func (r *Recorder) Read(timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	data, errc, proc := r.data, r.errc, r.proc
	r.mu.Unlock()

	if data == nil {
		return nil, io.EOF
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case buf, ok := <-data:
		if ok {
			return buf, nil
		}
		select {
		case err := <-errc:
			return nil, &media.DeviceOpenError{Device: r.device, Err: err}
		default:
		}
		if msg := proc.stderr.String(); msg != "" {
			return nil, fmt.Errorf("arecord %s: %s: %w", r.device, msg, io.EOF)
		}
		return nil, io.EOF
	case <-timer.C:
		return nil, media.ErrNoSample
	}
}

// Close stops arecord. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	proc, quit := r.proc, r.quit
	r.proc, r.data, r.errc, r.quit = nil, nil, nil, nil
	r.mu.Unlock()

	if proc == nil {
		return nil
	}
	close(quit)
	err := proc.stop()
	slog.Info("alsa: recorder stopped", "device", r.device)
	return err
}
