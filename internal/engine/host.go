package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

const (
	// DefaultWriteTimeout bounds one framed write to the host's stdin
	DefaultWriteTimeout = 2 * time.Second
	// DefaultStopTimeout bounds Close before the host is killed
	DefaultStopTimeout = 2 * time.Second
	// DefaultQueueSize is the number of encoded messages waiting for the writer
	DefaultQueueSize = 8
)

var (
	errNotRunning = errors.New("engine: host process not running")
	errQueueFull  = errors.New("engine: host input queue full")
)

// Credentials identify the kiosk to the RTC service. They reach the host process as
// environment variables, never as arguments.
type Credentials struct {
	AppID     string
	AppKey    string
	ServerURL string
	RoomID    string
	UserID    string
}

// Env returns the credentials as RTC_* variables. Empty values are omitted.
func (c Credentials) Env() []string {
	var env []string
	for _, kv := range [][2]string{
		{"RTC_APP_ID", c.AppID},
		{"RTC_APP_KEY", c.AppKey},
		{"RTC_SERVER_URL", c.ServerURL},
		{"RTC_ROOM_ID", c.RoomID},
		{"RTC_USER_ID", c.UserID},
	} {
		if kv[1] != "" {
			env = append(env, kv[0]+"="+kv[1])
		}
	}
	return env
}

// HostConfig configures a HostProcess.
type HostConfig struct {
	// Binary is the host executable (required)
	Binary string
	// Args are passed to the host unchanged
	Args []string
	// Env is appended to the inherited environment
	Env []string
	// Credentials are exported as RTC_* variables
	Credentials Credentials
	// WriteTimeout bounds each stdin write (default 2s)
	WriteTimeout time.Duration
	// StopTimeout bounds Close before the process is killed (default 2s)
	StopTimeout time.Duration
	// QueueSize is the outbound message queue depth (default 8)
	QueueSize int
	// Report receives host failures: unexpected exit, write timeouts, host error messages
	Report ReportFunc
}

// HostStats is a snapshot of host process counters.
type HostStats struct {
	Running       bool
	PID           int
	VideoSent     uint64
	AudioSent     uint64
	Dropped       uint64
	Received      uint64
	DecodeErrors  uint64
	SinkErrors    uint64
	WriteTimeouts uint64
}

// HostProcess is an Engine backed by the vendor RTC host binary.
//
// Outbound media is encoded on the pushing goroutine and queued; a writer goroutine
// frames it onto the host's stdin. A full queue drops the message. A write that does
// not complete within WriteTimeout means the host is hung: it is killed and reported.
// Inbound messages are read from stdout and dispatched to registered sinks and the
// audio callback on the reader goroutine. Stderr is logged line by line.
type HostProcess struct {
	cfg HostConfig

	mu       sync.Mutex
	sinks    map[string]VideoSink
	callback AudioCallback

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	outbox chan []byte

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	running atomic.Bool
	pid     atomic.Int64

	videoSent     atomic.Uint64
	audioSent     atomic.Uint64
	dropped       atomic.Uint64
	received      atomic.Uint64
	decodeErrors  atomic.Uint64
	sinkErrors    atomic.Uint64
	writeTimeouts atomic.Uint64
}

// NewHostProcess validates cfg. The process is spawned by Start.
func NewHostProcess(cfg HostConfig) (*HostProcess, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("engine: host binary is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	slog.Info("engine: host process configured",
		"binary", cfg.Binary,
		"room_id", cfg.Credentials.RoomID,
		"user_id", cfg.Credentials.UserID,
	)

	return &HostProcess{
		cfg:    cfg,
		sinks:  make(map[string]VideoSink),
		outbox: make(chan []byte, cfg.QueueSize),
	}, nil
}

// Start spawns the host process. A HostProcess can be started once.
func (h *HostProcess) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: host process already started")
	}

	cmd := exec.Command(h.cfg.Binary, h.cfg.Args...)
	cmd.Env = append(append(os.Environ(), h.cfg.Env...), h.cfg.Credentials.Env()...)
	return h.spawn(ctx, cmd)
}

// spawn wires the pipes of cmd, starts it and the I/O goroutines. Every failure
// cancels the host context.
func (h *HostProcess) spawn(ctx context.Context, cmd *exec.Cmd) (err error) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	defer func() {
		if err == nil {
			return
		}
		h.cancel()
		if h.stdin != nil {
			_ = h.stdin.Close()
		}
		if h.stdout != nil {
			_ = h.stdout.Close()
		}
	}()

	if h.stdin, err = cmd.StdinPipe(); err != nil {
		return fmt.Errorf("engine: create stdin pipe: %w", err)
	}
	if h.stdout, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("engine: create stdout pipe: %w", err)
	}
	if h.stderr, err = cmd.StderrPipe(); err != nil {
		return fmt.Errorf("engine: create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &media.DeviceOpenError{Device: h.cfg.Binary, Err: err}
	}
	h.cmd = cmd
	h.pid.Store(int64(cmd.Process.Pid))
	h.running.Store(true)

	slog.Info("engine: host process spawned", "binary", h.cfg.Binary, "pid", cmd.Process.Pid)

	h.wg.Add(4)
	go h.writeLoop()
	go h.readLoop()
	go h.logStderr()
	go h.waitProcess()

	return nil
}

// RegisterVideoSink implements Engine. A nil sink unregisters streamID.
func (h *HostProcess) RegisterVideoSink(streamID string, sink VideoSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sink == nil {
		delete(h.sinks, streamID)
		return
	}
	h.sinks[streamID] = sink
}

// RegisterAudioCallback implements Engine.
func (h *HostProcess) RegisterAudioCallback(cb AudioCallback) {
	h.mu.Lock()
	h.callback = cb
	h.mu.Unlock()
}

// PushVideoFrame implements Engine.
func (h *HostProcess) PushVideoFrame(frame *media.VideoFrame) error {
	m, err := VideoMessage(MsgVideo, StreamLocal, frame)
	if err != nil {
		return err
	}
	if err := h.enqueue(m); err != nil {
		return err
	}
	h.videoSent.Add(1)
	return nil
}

// PushAudioFrame implements Engine.
func (h *HostProcess) PushAudioFrame(chunk media.AudioChunk) error {
	m, err := AudioMessage(MsgAudio, chunk)
	if err != nil {
		return err
	}
	if err := h.enqueue(m); err != nil {
		return err
	}
	h.audioSent.Add(1)
	return nil
}

func (h *HostProcess) enqueue(m *Message) error {
	if !h.running.Load() {
		return errNotRunning
	}
	buf, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	select {
	case h.outbox <- buf:
		return nil
	default:
		h.dropped.Add(1)
		return errQueueFull
	}
}

// writeLoop frames queued messages onto stdin.
func (h *HostProcess) writeLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case buf := <-h.outbox:
			if err := h.write(buf); err != nil {
				slog.Error("engine: host write failed", "pid", h.pid.Load(), "error", err)
				return
			}
		}
	}
}

func (h *HostProcess) write(buf []byte) error {
	errc := make(chan error, 1)
	go func() {
		_, err := h.stdin.Write(buf)
		errc <- err
	}()

	select {
	case err := <-errc:
		return err
	case <-time.After(h.cfg.WriteTimeout):
		h.writeTimeouts.Add(1)
		err := fmt.Errorf("engine: host stdin write timeout after %s (host may be hung)", h.cfg.WriteTimeout)
		h.report(err)
		h.kill()
		return err
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// readLoop dispatches host messages until stdout closes.
func (h *HostProcess) readLoop() {
	defer h.wg.Done()

	for {
		m, err := ReadMessage(h.stdout)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				slog.Debug("engine: host stdout closed", "pid", h.pid.Load())
				return
			}
			slog.Error("engine: host stream broken", "pid", h.pid.Load(), "error", err)
			h.decodeErrors.Add(1)
			return
		}
		h.received.Add(1)
		h.dispatch(m)
	}
}

func (h *HostProcess) dispatch(m *Message) {
	switch m.Type {
	case MsgRemoteVideo:
		frame, err := m.Frame()
		if err != nil {
			h.decodeErrors.Add(1)
			slog.Warn("engine: dropping malformed remote frame", "stream", m.Stream, "error", err)
			return
		}
		stream := m.Stream
		if stream == "" {
			stream = StreamRemote
		}
		h.mu.Lock()
		sink := h.sinks[stream]
		h.mu.Unlock()
		if sink == nil {
			return
		}
		if err := sink.OnFrame(frame); err != nil {
			h.sinkErrors.Add(1)
		}

	case MsgPlaybackAudio:
		chunk, err := m.Chunk()
		if err != nil {
			h.decodeErrors.Add(1)
			slog.Warn("engine: dropping malformed playback audio", "error", err)
			return
		}
		h.mu.Lock()
		cb := h.callback
		h.mu.Unlock()
		if cb == nil {
			return
		}
		if err := cb.OnAudioFrame(chunk.Data, chunk.Format); err != nil {
			h.sinkErrors.Add(1)
		}

	case MsgLog:
		slog.Log(context.Background(), hostLevel(m.Level), "engine: host log", "pid", h.pid.Load(), "log", m.Text)

	case MsgError:
		slog.Error("engine: host reported error", "pid", h.pid.Load(), "message", m.Text)
		h.report(errors.New(m.Text))

	default:
		slog.Debug("engine: ignoring unknown host message", "type", m.Type)
	}
}

func hostLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "error", "critical":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// logStderr maps host stderr lines to slog levels.
func (h *HostProcess) logStderr() {
	defer h.wg.Done()

	scanner := bufio.NewScanner(h.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("engine: host error", "pid", h.pid.Load(), "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("engine: host warning", "pid", h.pid.Load(), "log", line)
		default:
			slog.Debug("engine: host stderr", "pid", h.pid.Load(), "log", line)
		}
	}
}

// waitProcess reaps the host and reports an exit nobody asked for.
func (h *HostProcess) waitProcess() {
	defer h.wg.Done()

	err := h.cmd.Wait()
	h.running.Store(false)

	select {
	case <-h.ctx.Done():
		slog.Debug("engine: host exited (shutdown)", "pid", h.pid.Load())
	default:
		if err == nil {
			err = errors.New("exited with status 0")
		}
		slog.Error("engine: host exited unexpectedly", "pid", h.pid.Load(), "error", err)
		h.report(fmt.Errorf("engine: host process exited: %w", err))
		h.cancel()
	}
}

func (h *HostProcess) kill() {
	if h.cmd != nil && h.cmd.Process != nil {
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Error("engine: failed to kill host", "pid", h.pid.Load(), "error", err)
		}
	}
}

// Close implements Engine: stdin is closed so the host can exit on its own, then the
// process is killed if it is still alive after StopTimeout.
func (h *HostProcess) Close() error {
	if !h.started.Load() || h.cancel == nil {
		return nil
	}

	h.running.Store(false)
	h.cancel()
	_ = h.stdin.Close()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("engine: host process stopped", "pid", h.pid.Load())
	case <-time.After(h.cfg.StopTimeout):
		slog.Warn("engine: host stop timeout, killing", "pid", h.pid.Load())
		h.kill()
		select {
		case <-done:
		case <-time.After(h.cfg.StopTimeout):
			return &media.JoinTimeoutError{Worker: "engine-host", Timeout: h.cfg.StopTimeout}
		}
	}
	return nil
}

// Stats returns a snapshot of the host counters.
func (h *HostProcess) Stats() HostStats {
	return HostStats{
		Running:       h.running.Load(),
		PID:           int(h.pid.Load()),
		VideoSent:     h.videoSent.Load(),
		AudioSent:     h.audioSent.Load(),
		Dropped:       h.dropped.Load(),
		Received:      h.received.Load(),
		DecodeErrors:  h.decodeErrors.Load(),
		SinkErrors:    h.sinkErrors.Load(),
		WriteTimeouts: h.writeTimeouts.Load(),
	}
}

func (h *HostProcess) report(err error) {
	if h.cfg.Report != nil {
		h.cfg.Report("engine", err)
	}
}
