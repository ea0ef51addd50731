package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []*media.VideoFrame
}

func (r *frameRecorder) OnFrame(f *media.VideoFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f.Clone())
	return nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type audioRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
	format media.AudioFormat
}

func (r *audioRecorder) OnAudioFrame(data []byte, format media.AudioFormat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, append([]byte(nil), data...))
	r.format = format
	return nil
}

func (r *audioRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func monoChunk(samples ...int16) media.AudioChunk {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return media.AudioChunk{Format: media.CaptureFormat, Data: buf}
}

func TestUpmix_MonoToStereo48k(t *testing.T) {
	in := monoChunk(100, -200)
	out, err := Upmix(in.Data, media.CaptureFormat, media.PlaybackFormat)
	require.NoError(t, err)
	require.Len(t, out, 2*3*2*2) // 2 samples x3 rate x2 channels x2 bytes

	for i := 0; i < 6; i++ {
		got := int16(binary.LittleEndian.Uint16(out[2*i:]))
		assert.Equal(t, int16(100), got, "sample %d", i)
	}
	for i := 6; i < 12; i++ {
		got := int16(binary.LittleEndian.Uint16(out[2*i:]))
		assert.Equal(t, int16(-200), got, "sample %d", i)
	}
}

func TestUpmix_RejectsUnrelatedRates(t *testing.T) {
	_, err := Upmix(make([]byte, 4), media.AudioFormat{SampleRate: 44100, Channels: 1}, media.PlaybackFormat)
	var fv *media.FrameValidationError
	assert.ErrorAs(t, err, &fv)

	_, err = Upmix([]byte{1, 2, 3}, media.CaptureFormat, media.PlaybackFormat)
	assert.ErrorAs(t, err, &fv)
}

func TestLoopback_EchoesVideo(t *testing.T) {
	lb := NewLoopback()
	local, remote := &frameRecorder{}, &frameRecorder{}
	lb.RegisterVideoSink(StreamLocal, local)
	lb.RegisterVideoSink(StreamRemote, remote)

	f := media.NewI420Frame(4, 4)
	f.Seq = 7
	require.NoError(t, lb.PushVideoFrame(f))

	require.Equal(t, 1, local.count())
	require.Equal(t, 1, remote.count())
	assert.Equal(t, uint64(7), remote.frames[0].Seq)
	assert.Equal(t, uint64(2), lb.Stats().VideoDelivered)

	var fv *media.FrameValidationError
	assert.ErrorAs(t, lb.PushVideoFrame(&media.VideoFrame{}), &fv)
}

func TestLoopback_AudioIn20msChunks(t *testing.T) {
	lb := NewLoopback()
	rec := &audioRecorder{}
	lb.RegisterAudioCallback(rec)

	tenMS := make([]int16, 160)
	require.NoError(t, lb.PushAudioFrame(monoChunk(tenMS...)))
	assert.Equal(t, 0, rec.count(), "half a playback chunk is held back")

	require.NoError(t, lb.PushAudioFrame(monoChunk(tenMS...)))
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.chunks[0], media.PlaybackFormat.BytesFor(LoopbackChunk))
	assert.Equal(t, media.PlaybackFormat, rec.format)
}

func TestLoopback_Close(t *testing.T) {
	lb := NewLoopback()
	rec := &frameRecorder{}
	lb.RegisterVideoSink(StreamRemote, rec)
	require.NoError(t, lb.Close())

	assert.ErrorIs(t, lb.PushVideoFrame(media.NewI420Frame(2, 2)), ErrClosed)
	assert.ErrorIs(t, lb.PushAudioFrame(monoChunk(1)), ErrClosed)
	assert.Equal(t, 0, rec.count())
}

func TestCodec_VideoRoundTrip(t *testing.T) {
	f := &media.VideoFrame{
		Width: 4, Height: 2, Format: media.FormatI420, Rotation: media.Rotation90, Seq: 3, TimestampUS: 99,
		Planes: []media.Plane{
			{Data: []byte{1, 2, 3, 4, 0, 0, 5, 6, 7, 8}, Stride: 6}, // padded rows
			{Data: []byte{9, 10}, Stride: 2},
			{Data: []byte{11, 12}, Stride: 2},
		},
	}
	m, err := VideoMessage(MsgVideo, StreamLocal, f)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, m))
	assert.Equal(t, uint32(buf.Len()-4), binary.BigEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgVideo, got.Type)

	frame, err := got.Frame()
	require.NoError(t, err)
	assert.Equal(t, media.Rotation90, frame.Rotation)
	assert.Equal(t, uint64(3), frame.Seq)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, frame.Planes[0].Data, "planes are packed")

	_, err = ReadMessage(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCodec_RejectsOversizedAndTruncated(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxMessageSize+1)
	_, err := ReadMessage(bytes.NewReader(prefix[:]))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	binary.BigEndian.PutUint32(prefix[:], 10)
	_, err = ReadMessage(bytes.NewReader(append(prefix[:], 1, 2)))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCredentials_Env(t *testing.T) {
	env := Credentials{AppID: "app", RoomID: "room-1"}.Env()
	assert.Equal(t, []string{"RTC_APP_ID=app", "RTC_ROOM_ID=room-1"}, env)
}

// TestHelperHost is not a real test: it is the host binary spawned by the HostProcess
// tests. It echoes video as remote_video and audio as upmixed playback_audio.
func TestHelperHost(t *testing.T) {
	if os.Getenv("ENGINE_HELPER_HOST") != "1" {
		t.Skip("helper process")
	}
	defer os.Exit(0)

	switch os.Getenv("ENGINE_HELPER_MODE") {
	case "crash":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		return
	}

	_ = WriteMessage(os.Stdout, &Message{Type: MsgError, Text: "joined room=" + os.Getenv("RTC_ROOM_ID")})
	_ = WriteMessage(os.Stdout, &Message{Type: MsgLog, Level: "info", Text: "host ready"})
	os.Stderr.WriteString("[WARNING] helper stderr line\n")

	for {
		m, err := ReadMessage(os.Stdin)
		if err != nil {
			return
		}
		switch m.Type {
		case MsgVideo:
			m.Type = MsgRemoteVideo
			m.Stream = StreamRemote
			_ = WriteMessage(os.Stdout, m)
		case MsgAudio:
			in := media.AudioFormat{SampleRate: m.SampleRate, Channels: m.Channels}
			up, err := Upmix(m.Data, in, media.PlaybackFormat)
			if err != nil {
				continue
			}
			_ = WriteMessage(os.Stdout, &Message{
				Type:       MsgPlaybackAudio,
				SampleRate: media.PlaybackFormat.SampleRate,
				Channels:   media.PlaybackFormat.Channels,
				Data:       up,
			})
		}
	}
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) report(_ string, err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.errs {
		if bytes.Contains([]byte(e.Error()), []byte(substr)) {
			return true
		}
	}
	return false
}

func helperHost(t *testing.T, mode string, log *errorLog) *HostProcess {
	t.Helper()
	h, err := NewHostProcess(HostConfig{
		Binary:       os.Args[0],
		Args:         []string{"-test.run=^TestHelperHost$"},
		Env:          []string{"ENGINE_HELPER_HOST=1", "ENGINE_HELPER_MODE=" + mode},
		Credentials:  Credentials{AppID: "app", RoomID: "kiosk-42"},
		WriteTimeout: 200 * time.Millisecond,
		StopTimeout:  time.Second,
		Report:       log.report,
	})
	require.NoError(t, err)
	return h
}

func TestHostProcess_EchoThroughHost(t *testing.T) {
	log := &errorLog{}
	h := helperHost(t, "echo", log)
	remote, audio := &frameRecorder{}, &audioRecorder{}
	h.RegisterVideoSink(StreamRemote, remote)
	h.RegisterAudioCallback(audio)

	assert.ErrorIs(t, h.PushVideoFrame(media.NewI420Frame(4, 4)), errNotRunning)

	require.NoError(t, h.Start(context.Background()))
	defer h.Close()

	f := media.NewI420Frame(8, 8)
	f.Seq = 11
	require.NoError(t, h.PushVideoFrame(f))
	require.NoError(t, h.PushAudioFrame(monoChunk(make([]int16, 160)...)))

	require.Eventually(t, func() bool { return remote.count() == 1 && audio.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(11), remote.frames[0].Seq)
	assert.Equal(t, media.PlaybackFormat, audio.format)
	assert.Len(t, audio.chunks[0], 1920)

	require.Eventually(t, func() bool { return log.contains("joined room=kiosk-42") }, 5*time.Second, 10*time.Millisecond,
		"credentials reach the host through the environment")

	require.NoError(t, h.Close())
	assert.False(t, h.Stats().Running)
	assert.False(t, log.contains("exited"), "a requested stop is not reported")
}

func TestHostProcess_UnexpectedExitReported(t *testing.T) {
	log := &errorLog{}
	h := helperHost(t, "crash", log)
	require.NoError(t, h.Start(context.Background()))
	defer h.Close()

	require.Eventually(t, func() bool { return log.contains("host process exited") }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, h.Stats().Running)
	assert.ErrorIs(t, h.PushAudioFrame(monoChunk(1)), errNotRunning)
}

func TestHostProcess_HungHostKilled(t *testing.T) {
	log := &errorLog{}
	h := helperHost(t, "hang", log)
	require.NoError(t, h.Start(context.Background()))
	defer h.Close()

	// A VGA frame is larger than a pipe buffer; a host that never reads blocks the write.
	require.NoError(t, h.PushVideoFrame(media.NewI420Frame(640, 480)))

	require.Eventually(t, func() bool { return h.Stats().WriteTimeouts == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !h.Stats().Running }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, log.contains("write timeout"))

	start := time.Now()
	require.NoError(t, h.Close())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHostProcess_StartMissingBinary(t *testing.T) {
	h, err := NewHostProcess(HostConfig{Binary: "/nonexistent/rtc-host"})
	require.NoError(t, err)

	var do *media.DeviceOpenError
	require.ErrorAs(t, h.Start(context.Background()), &do)
	require.NoError(t, h.Close())

	_, err = NewHostProcess(HostConfig{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrClosed))
}

func TestHostProcess_PipeFailureCancelsContext(t *testing.T) {
	h, err := NewHostProcess(HostConfig{Binary: os.Args[0]})
	require.NoError(t, err)

	cmd := exec.Command(os.Args[0])
	cmd.Stdout = io.Discard // StdoutPipe refuses an assigned Stdout
	require.Error(t, h.spawn(context.Background(), cmd))
	assert.ErrorIs(t, h.ctx.Err(), context.Canceled)
	assert.Nil(t, cmd.Process, "nothing was started")

	var do *media.DeviceOpenError
	h2, err := NewHostProcess(HostConfig{Binary: "/nonexistent/rtc-host"})
	require.NoError(t, err)
	require.ErrorAs(t, h2.spawn(context.Background(), exec.Command("/nonexistent/rtc-host")), &do)
	assert.ErrorIs(t, h2.ctx.Err(), context.Canceled)
}
