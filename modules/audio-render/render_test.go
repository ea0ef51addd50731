package audiorender

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

type fakeSpeaker struct {
	mu       sync.Mutex
	openErr  error
	writeErr error
	open     bool
	opens    int
	writes   [][]byte
	block    chan struct{} // Write blocks until closed
}

func (f *fakeSpeaker) Open(format media.AudioFormat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	if f.open {
		return errors.New("device busy")
	}
	f.open = true
	f.opens++
	return nil
}

func (f *fakeSpeaker) Write(data []byte) error {
	f.mu.Lock()
	block, werr := f.block, f.writeErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if werr != nil {
		return werr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeSpeaker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeSpeaker) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func (f *fakeSpeaker) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// pcm builds a 20ms 48 kHz stereo chunk filled with sample s.
func pcm(s int16) []byte {
	buf := make([]byte, media.PlaybackFormat.BytesFor(20*time.Millisecond))
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(s))
	}
	return buf
}

func firstSample(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }

func newWorker(t *testing.T, dev PlaybackDevice, cfg Config) *RenderWorker {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Millisecond
	}
	w, err := New(dev, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestRenderWorker_PlaysInOrder(t *testing.T) {
	dev := &fakeSpeaker{}
	w := newWorker(t, dev, Config{})
	require.NoError(t, w.Start(context.Background()))

	for i := int16(1); i <= 5; i++ {
		require.NoError(t, w.OnAudioFrame(pcm(i*100), media.PlaybackFormat))
	}

	require.Eventually(t, func() bool { return len(dev.written()) == 5 }, time.Second, 5*time.Millisecond)
	for i, chunk := range dev.written() {
		assert.Equal(t, int16((i+1)*100), firstSample(chunk), "chunk %d out of order", i)
	}
	assert.Equal(t, uint64(5), w.Stats().Played)
}

func TestRenderWorker_CopiesPayload(t *testing.T) {
	dev := &fakeSpeaker{block: make(chan struct{})}
	w := newWorker(t, dev, Config{})
	require.NoError(t, w.Start(context.Background()))

	buf := pcm(1000)
	require.NoError(t, w.OnAudioFrame(buf, media.PlaybackFormat))
	// The engine reuses its buffer after the callback returns.
	for i := range buf {
		buf[i] = 0
	}
	close(dev.block)

	require.Eventually(t, func() bool { return len(dev.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int16(1000), firstSample(dev.written()[0]))
}

func TestRenderWorker_MuteWritesNothing(t *testing.T) {
	dev := &fakeSpeaker{}
	w := newWorker(t, dev, Config{Muted: true})
	require.NoError(t, w.Start(context.Background()))
	require.Equal(t, 100, w.Volume())

	for i := 0; i < 3; i++ {
		require.NoError(t, w.OnAudioFrame(pcm(20000), media.PlaybackFormat))
	}
	require.Eventually(t, func() bool { return w.Stats().MutedDiscarded == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, dev.written(), "muted chunks must not reach the device")

	w.SetMute(false)
	require.NoError(t, w.OnAudioFrame(pcm(20000), media.PlaybackFormat))
	require.Eventually(t, func() bool { return len(dev.written()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRenderWorker_Volume(t *testing.T) {
	dev := &fakeSpeaker{}
	half := 50
	w := newWorker(t, dev, Config{Volume: &half})
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.OnAudioFrame(pcm(-32768), media.PlaybackFormat))
	require.Eventually(t, func() bool { return len(dev.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int16(-16384), firstSample(dev.written()[0]))

	w.SetVolume(150)
	assert.Equal(t, 100, w.Volume())
	w.SetVolume(-1)
	assert.Equal(t, 0, w.Volume())
}

func TestRenderWorker_QueueBoundedDropOldest(t *testing.T) {
	dev := &fakeSpeaker{block: make(chan struct{})}
	w := newWorker(t, dev, Config{QueueChunks: 4})
	require.NoError(t, w.Start(context.Background()))

	// First chunk is popped and blocks in Write; the next ones pile up.
	require.NoError(t, w.OnAudioFrame(pcm(1), media.PlaybackFormat))
	require.Eventually(t, func() bool { return w.Stats().Queued == 0 }, time.Second, time.Millisecond)
	for i := int16(2); i <= 11; i++ {
		require.NoError(t, w.OnAudioFrame(pcm(i), media.PlaybackFormat))
	}

	stats := w.Stats()
	assert.Equal(t, 4, stats.Queued)
	assert.Equal(t, uint64(6), stats.Evicted)

	close(dev.block)
	require.Eventually(t, func() bool { return len(dev.written()) == 5 }, time.Second, 5*time.Millisecond)
	var got []int16
	for _, c := range dev.written() {
		got = append(got, firstSample(c))
	}
	assert.Equal(t, []int16{1, 8, 9, 10, 11}, got, "ring must retain the most recent chunks")
}

func TestRenderWorker_RejectsInvalid(t *testing.T) {
	w := newWorker(t, &fakeSpeaker{}, Config{})
	require.NoError(t, w.Start(context.Background()))

	var fv *media.FrameValidationError
	assert.ErrorAs(t, w.OnAudioFrame(nil, media.PlaybackFormat), &fv)
	assert.ErrorAs(t, w.OnAudioFrame([]byte{1, 2, 3}, media.PlaybackFormat), &fv)
	assert.ErrorAs(t, w.OnAudioFrame(pcm(1)[:320], media.CaptureFormat), &fv)
	assert.Equal(t, uint64(3), w.Stats().Rejected)
}

func TestRenderWorker_IgnoresWhileStopped(t *testing.T) {
	dev := &fakeSpeaker{}
	w := newWorker(t, dev, Config{})
	require.NoError(t, w.OnAudioFrame(pcm(1), media.PlaybackFormat))
	assert.Equal(t, uint64(1), w.Stats().Ignored)

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, dev.written(), "stale audio must not play after start")
}

func TestRenderWorker_OpenFailure(t *testing.T) {
	var reported []error
	dev := &fakeSpeaker{openErr: errors.New("aplay exited during startup: audio open error: No such file or directory")}
	w := newWorker(t, dev, Config{Report: func(_ string, err error) { reported = append(reported, err) }})

	err := w.Start(context.Background())
	var do *media.DeviceOpenError
	require.ErrorAs(t, err, &do)
	assert.False(t, w.IsRendering())
	assert.Len(t, reported, 1)
	assert.NoError(t, w.Stop(), "Stop must be safe after a failed Start")
}

func TestRenderWorker_StartStopCycles(t *testing.T) {
	dev := &fakeSpeaker{}
	w := newWorker(t, dev, Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Start(context.Background()))
		require.NoError(t, w.Start(context.Background()), "Start is idempotent")
		require.NoError(t, w.Stop())
		require.NoError(t, w.Stop(), "Stop is idempotent")
		assert.False(t, dev.isOpen())
	}
	assert.Equal(t, 3, dev.opens)
}

func TestRenderWorker_JoinTimeout(t *testing.T) {
	dev := &fakeSpeaker{block: make(chan struct{})}
	var mu sync.Mutex
	var reported []error
	w := newWorker(t, dev, Config{
		JoinTimeout: 30 * time.Millisecond,
		Report: func(_ string, err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.OnAudioFrame(pcm(1), media.PlaybackFormat))
	require.Eventually(t, func() bool { return w.Stats().Queued == 0 }, time.Second, time.Millisecond)

	start := time.Now()
	err := w.Stop()
	var jt *media.JoinTimeoutError
	require.ErrorAs(t, err, &jt)
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	close(dev.block)
	require.Eventually(t, func() bool { return !w.IsRendering() }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reported, 1)
}

func TestRenderWorker_DeviceLost(t *testing.T) {
	dev := &fakeSpeaker{writeErr: errors.New("broken pipe")}
	reported := make(chan error, 1)
	w := newWorker(t, dev, Config{Report: func(_ string, err error) { reported <- err }})
	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < maxWriteFailures; i++ {
		_ = w.OnAudioFrame(pcm(1), media.PlaybackFormat)
		time.Sleep(3 * time.Millisecond)
	}

	select {
	case err := <-reported:
		var do *media.DeviceOpenError
		assert.ErrorAs(t, err, &do)
	case <-time.After(2 * time.Second):
		t.Fatal("device loss not reported")
	}
	assert.False(t, w.IsRendering())
}

func TestNew_FailFast(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
	_, err = New(&fakeSpeaker{}, Config{Format: media.AudioFormat{SampleRate: 48000}})
	assert.Error(t, err)
}
