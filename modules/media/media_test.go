package media

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samplesOf(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}

func TestScaleSample_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		in     int16
		volume int
		want   int16
	}{
		{"max at unity", 32767, 100, 32767},
		{"min at unity", -32768, 100, -32768},
		{"min boosted clamps", -32768, 150, -32768},
		{"max boosted clamps", 32767, 150, 32767},
		{"half volume", 1000, 50, 500},
		{"negative half volume truncates toward zero", -1001, 50, -500},
		{"silence", 12345, 0, 0},
		{"boost in range", 1000, 150, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScaleSample(tt.in, tt.volume))
		})
	}
}

func TestScaleS16_ExhaustiveNoWraparound(t *testing.T) {
	// Every sample at every volume 0..150 must equal clamp(s*v/100).
	for v := 0; v <= 150; v += 10 {
		for s := -32768; s <= 32767; s += 257 {
			buf := s16(int16(s))
			ScaleS16(buf, v)
			want := s * v / 100
			if want > 32767 {
				want = 32767
			}
			if want < -32768 {
				want = -32768
			}
			got := samplesOf(buf)[0]
			if int(got) != want {
				t.Fatalf("s=%d v=%d: got %d want %d", s, v, got, want)
			}
		}
	}
}

func TestScaleS16_UnityIsNoop(t *testing.T) {
	buf := s16(1, -2, 32767, -32768)
	orig := append([]byte(nil), buf...)
	ScaleS16(buf, 100)
	assert.Equal(t, orig, buf)
}

func TestPeakS16(t *testing.T) {
	assert.Equal(t, 0, PeakS16(nil))
	assert.Equal(t, 32768, PeakS16(s16(3, -32768, 100)))
	assert.Equal(t, 900, PeakS16(s16(-5, 900, 12)))
}

func TestAudioFormat_Sizes(t *testing.T) {
	assert.Equal(t, 320, CaptureFormat.BytesFor(10*time.Millisecond))
	assert.Equal(t, 3840, PlaybackFormat.BytesFor(20*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, CaptureFormat.DurationOf(320))
	assert.Equal(t, "16000Hz/1ch", CaptureFormat.String())
}

func TestAudioChunk_Validate(t *testing.T) {
	require.NoError(t, AudioChunk{Format: PlaybackFormat, Data: make([]byte, 3840)}.Validate())

	var fv *FrameValidationError
	err := AudioChunk{Format: PlaybackFormat, Data: make([]byte, 6)}.Validate()
	require.ErrorAs(t, err, &fv)

	err = AudioChunk{Format: CaptureFormat}.Validate()
	require.ErrorAs(t, err, &fv)

	err = AudioChunk{Data: []byte{0, 0}}.Validate()
	require.ErrorAs(t, err, &fv)
}

func TestVideoFrame_Validate(t *testing.T) {
	valid := NewI420Frame(640, 480)
	require.NoError(t, valid.Validate())

	odd := NewI420Frame(5, 3)
	require.NoError(t, odd.Validate())
	assert.Len(t, odd.Planes[1].Data, 3*2)

	rgba := &VideoFrame{Width: 2, Height: 2, Format: FormatRGBA, Planes: []Plane{{Data: make([]byte, 16), Stride: 8}}}
	require.NoError(t, rgba.Validate())

	tests := []struct {
		name  string
		frame *VideoFrame
	}{
		{"nil", nil},
		{"zero width", &VideoFrame{Width: 0, Height: 10, Format: FormatI420}},
		{"negative height", &VideoFrame{Width: 10, Height: -1, Format: FormatI420}},
		{"unknown format", &VideoFrame{Width: 2, Height: 2, Format: PixelFormat(7)}},
		{"bad rotation", func() *VideoFrame { f := NewI420Frame(4, 4); f.Rotation = 45; return f }()},
		{"missing planes", &VideoFrame{Width: 4, Height: 4, Format: FormatI420, Planes: []Plane{{Data: make([]byte, 16), Stride: 4}}}},
		{"short stride", func() *VideoFrame { f := NewI420Frame(4, 4); f.Planes[0].Stride = 3; return f }()},
		{"short plane", func() *VideoFrame { f := NewI420Frame(4, 4); f.Planes[2].Data = f.Planes[2].Data[:3]; return f }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fv *FrameValidationError
			require.ErrorAs(t, tt.frame.Validate(), &fv)
			t.Logf("rejected: %s", fv.Reason)
		})
	}
}

func TestVideoFrame_ClonePacksPadding(t *testing.T) {
	f := &VideoFrame{
		Width: 2, Height: 2, Format: FormatI420,
		Planes: []Plane{
			{Data: []byte{1, 2, 99, 99, 3, 4}, Stride: 4},
			{Data: []byte{5}, Stride: 1},
			{Data: []byte{6}, Stride: 1},
		},
	}
	require.NoError(t, f.Validate())

	c := f.Clone()
	assert.Equal(t, []byte{1, 2, 3, 4}, c.Planes[0].Data)
	assert.Equal(t, 2, c.Planes[0].Stride)

	f.Planes[0].Data[0] = 42
	assert.Equal(t, byte(1), c.Planes[0].Data[0], "clone must not alias source")
}

func TestVideoFrame_DisplaySize(t *testing.T) {
	f := NewI420Frame(640, 480)
	w, h := f.DisplaySize()
	assert.Equal(t, [2]int{640, 480}, [2]int{w, h})

	f.Rotation = Rotation90
	w, h = f.DisplaySize()
	assert.Equal(t, [2]int{480, 640}, [2]int{w, h})

	f.Rotation = Rotation180
	w, h = f.DisplaySize()
	assert.Equal(t, [2]int{640, 480}, [2]int{w, h})
}

func TestCameraIDs(t *testing.T) {
	usb := USBCamera(2, "UVC Camera (video2)")
	assert.Equal(t, "USB:2", usb.ID)
	assert.Equal(t, "/dev/video2", usb.DevicePath())

	parsed, err := ParseCameraID(usb.ID)
	require.NoError(t, err)
	assert.Equal(t, CameraUSB, parsed.Kind)
	assert.Equal(t, 2, parsed.Index)

	csi, err := ParseCameraID("csi")
	require.NoError(t, err)
	assert.Equal(t, -1, csi.Index)
	assert.Equal(t, "", csi.DevicePath())

	_, err = ParseCameraID("USB:x")
	assert.Error(t, err)
	_, err = ParseCameraID("HDMI")
	assert.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("Device or resource busy")
	open := &DeviceOpenError{Device: "/dev/video0", Err: cause}
	wrapped := errors.Join(errors.New("start"), open)

	var target *DeviceOpenError
	require.ErrorAs(t, wrapped, &target)
	assert.ErrorIs(t, open, cause)
	assert.True(t, IsStructural(wrapped))

	build := &PipelineBuildError{Description: "v4l2src", Err: errors.New("no element")}
	assert.True(t, IsStructural(build))
	assert.Contains(t, build.Error(), "v4l2src")

	assert.False(t, IsStructural(&FrameValidationError{Reason: "x"}))

	leak := &JoinTimeoutError{Worker: "camera-capture", Timeout: 3 * time.Second}
	assert.Contains(t, leak.Error(), "3s")
}
