package videosink

import (
	"bytes"
	"context"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

func newSink(t *testing.T, mode Mode) *SinkAdapter {
	t.Helper()
	s, err := New(Config{Name: "remote", Mode: mode})
	require.NoError(t, err)
	return s
}

func TestSinkCPU_StoresLatest(t *testing.T) {
	s := newSink(t, ModeCPU)
	assert.Nil(t, s.CurrentFrame(), "no frame before the first OnFrame")

	require.NoError(t, s.OnFrame(solidI420(8, 4, 16, 128, 128)))
	require.NoError(t, s.OnFrame(solidI420(8, 4, 235, 128, 128)))

	img := s.CurrentFrame()
	require.NotNil(t, img)
	r, g, b := img.RGBAt(0, 0)
	assert.Equal(t, [3]uint8{255, 255, 255}, [3]uint8{r, g, b})

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Converted)
}

func TestSinkCPU_RotatedFrame(t *testing.T) {
	s := newSink(t, ModeCPU)
	f := solidI420(640, 480, 128, 128, 128)
	f.Rotation = media.Rotation90
	require.NoError(t, s.OnFrame(f))
	assert.Equal(t, 480, s.CurrentFrame().Width)
	assert.Equal(t, 640, s.CurrentFrame().Height)
}

func TestSinkCPU_RetainsNothingFromEngineBuffer(t *testing.T) {
	s := newSink(t, ModeCPU)
	f := solidI420(4, 4, 235, 128, 128)
	require.NoError(t, s.OnFrame(f))
	fill(f.Planes[0].Data, 16) // engine reuses the buffer
	r, _, _ := s.CurrentFrame().RGBAt(0, 0)
	assert.Equal(t, uint8(255), r)
}

func TestSink_RejectsInvalidWithoutPanic(t *testing.T) {
	for _, mode := range []Mode{ModeCPU, ModeGPU} {
		s := newSink(t, mode)
		var fv *media.FrameValidationError

		assert.ErrorAs(t, s.OnFrame(nil), &fv)
		assert.ErrorAs(t, s.OnFrame(&media.VideoFrame{Width: 4, Height: 4, Format: media.PixelFormat(7)}), &fv)
		assert.ErrorAs(t, s.OnFrame(&media.VideoFrame{Width: -1, Height: 4, Format: media.FormatI420}), &fv)

		assert.Equal(t, uint64(3), s.Stats().Rejected, "mode %s", mode)
		assert.Equal(t, uint64(0), s.Stats().Accepted, "mode %s", mode)
	}
}

func TestSinkGPU_RejectsRGBA(t *testing.T) {
	s := newSink(t, ModeGPU)
	f := &media.VideoFrame{
		Width: 1, Height: 1, Format: media.FormatRGBA,
		Planes: []media.Plane{{Data: []byte{1, 2, 3, 4}, Stride: 4}},
	}
	var fv *media.FrameValidationError
	assert.ErrorAs(t, s.OnFrame(f), &fv)
}

func TestSinkGPU_HandOffKeepsTwoNewest(t *testing.T) {
	s := newSink(t, ModeGPU)

	for i := uint64(1); i <= 5; i++ {
		f := solidI420(4, 4, 100, 128, 128)
		f.Seq = i
		require.NoError(t, s.OnFrame(f))
	}

	first, ok := s.TryNextFrame()
	require.True(t, ok)
	second, ok := s.TryNextFrame()
	require.True(t, ok)
	_, ok = s.TryNextFrame()
	assert.False(t, ok)

	assert.Equal(t, uint64(4), first.Seq)
	assert.Equal(t, uint64(5), second.Seq)
	assert.Equal(t, uint64(3), s.Stats().Overwritten)
	assert.Nil(t, s.CurrentFrame(), "GPU mode does not convert on the engine thread")
}

func TestSinkGPU_CopiesPlanes(t *testing.T) {
	s := newSink(t, ModeGPU)
	f := solidI420(4, 4, 100, 50, 200)
	require.NoError(t, s.OnFrame(f))
	fill(f.Planes[0].Data, 0)

	got, ok := s.TryNextFrame()
	require.True(t, ok)
	assert.Equal(t, byte(100), got.Planes[0].Data[0])
	assert.Equal(t, byte(50), got.Planes[1].Data[0])
	assert.Equal(t, byte(200), got.Planes[2].Data[0])
}

func TestSinkGPU_NextFrameCrossesGoroutines(t *testing.T) {
	s := newSink(t, ModeGPU)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	var got *media.VideoFrame
	var err error
	go func() {
		defer wg.Done()
		got, err = s.NextFrame(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	f := solidI420(4, 4, 1, 2, 3)
	f.Seq = 42
	require.NoError(t, s.OnFrame(f))
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Seq)

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err = s.NextFrame(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSink_ReleaseIsIdempotent(t *testing.T) {
	s := newSink(t, ModeGPU)
	require.NoError(t, s.OnFrame(solidI420(4, 4, 1, 2, 3)))

	s.Release()
	s.Release()

	_, ok := s.TryNextFrame()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Snapshot(&bytes.Buffer{}), ErrNoFrame)

	require.NoError(t, s.OnFrame(solidI420(4, 4, 1, 2, 3)), "sink keeps working after Release")
}

func TestSink_SnapshotPNG(t *testing.T) {
	for _, mode := range []Mode{ModeCPU, ModeGPU} {
		s := newSink(t, mode)
		var buf bytes.Buffer
		assert.ErrorIs(t, s.Snapshot(&buf), ErrNoFrame)

		f := solidI420(6, 4, 235, 128, 128)
		f.Rotation = media.Rotation270
		require.NoError(t, s.OnFrame(f))
		require.NoError(t, s.Snapshot(&buf))

		img, err := png.Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx(), "mode %s", mode)
		assert.Equal(t, 6, img.Bounds().Dy(), "mode %s", mode)
		r, _, _, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(0xffff), r)
	}
}

func TestNew_RejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: Mode(9)})
	assert.Error(t, err)
	_, err = New(Config{ColorRange: ColorRange(9)})
	assert.Error(t, err)
}
