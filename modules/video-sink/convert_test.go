package videosink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// solidI420 returns a w x h frame filled with one YUV value.
func solidI420(w, h int, y, u, v byte) *media.VideoFrame {
	f := media.NewI420Frame(w, h)
	fill(f.Planes[0].Data, y)
	fill(f.Planes[1].Data, u)
	fill(f.Planes[2].Data, v)
	return f
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func assertUniform(t *testing.T, img *RGBImage, want uint8, tolerance int) {
	t.Helper()
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			r, g, b := img.RGBAt(x, y)
			for _, c := range []uint8{r, g, b} {
				if d := int(c) - int(want); d < -tolerance || d > tolerance {
					t.Fatalf("pixel (%d,%d) = (%d,%d,%d), want %d±%d", x, y, r, g, b, want, tolerance)
				}
			}
		}
	}
}

func TestConvert_WhiteAndBlack(t *testing.T) {
	white, err := ConvertToRGB(solidI420(16, 8, 235, 128, 128), RangeLimited)
	require.NoError(t, err)
	assertUniform(t, white, 255, 1)

	black, err := ConvertToRGB(solidI420(16, 8, 16, 128, 128), RangeLimited)
	require.NoError(t, err)
	assertUniform(t, black, 0, 1)
}

func TestConvert_FullRange(t *testing.T) {
	img, err := ConvertToRGB(solidI420(4, 4, 200, 128, 128), RangeFull)
	require.NoError(t, err)
	assertUniform(t, img, 200, 0)

	img, err = ConvertToRGB(solidI420(4, 4, 255, 128, 128), RangeFull)
	require.NoError(t, err)
	assertUniform(t, img, 255, 0)
}

func TestConvert_Clamps(t *testing.T) {
	// Bright luma with maximal V overshoots red; black luma with minimal U undershoots blue.
	img, err := ConvertToRGB(solidI420(2, 2, 235, 128, 240), RangeLimited)
	require.NoError(t, err)
	r, _, _ := img.RGBAt(0, 0)
	assert.Equal(t, uint8(255), r)

	img, err = ConvertToRGB(solidI420(2, 2, 16, 16, 128), RangeLimited)
	require.NoError(t, err)
	_, _, b := img.RGBAt(0, 0)
	assert.Equal(t, uint8(0), b)
}

func TestConvert_KnownColor(t *testing.T) {
	// BT.601 limited-range pure red is roughly Y=81 U=90 V=240.
	img, err := ConvertToRGB(solidI420(2, 2, 81, 90, 240), RangeLimited)
	require.NoError(t, err)
	r, g, b := img.RGBAt(1, 1)
	assert.InDelta(t, 255, int(r), 2)
	assert.InDelta(t, 0, int(g), 2)
	assert.InDelta(t, 0, int(b), 2)
}

func TestConvert_RotationDimensions(t *testing.T) {
	tests := []struct {
		rot          media.Rotation
		wantW, wantH int
	}{
		{media.Rotation0, 640, 480},
		{media.Rotation90, 480, 640},
		{media.Rotation180, 640, 480},
		{media.Rotation270, 480, 640},
	}

	for _, tt := range tests {
		f := solidI420(640, 480, 128, 128, 128)
		f.Rotation = tt.rot
		img, err := ConvertToRGB(f, RangeLimited)
		require.NoError(t, err)
		assert.Equal(t, tt.wantW, img.Width, "rotation %d", tt.rot)
		assert.Equal(t, tt.wantH, img.Height, "rotation %d", tt.rot)
		assert.Len(t, img.Pix, tt.wantW*tt.wantH*3)
	}
}

// markedFrame is a 4x2 I420 frame with a white pixel at the source top-left and
// black elsewhere.
func markedFrame(rot media.Rotation) *media.VideoFrame {
	f := solidI420(4, 2, 16, 128, 128)
	f.Planes[0].Data[0] = 235
	f.Rotation = rot
	return f
}

func TestConvert_RotationMapping(t *testing.T) {
	tests := []struct {
		rot  media.Rotation
		x, y int // expected position of the source top-left pixel
	}{
		{media.Rotation0, 0, 0},
		{media.Rotation90, 1, 0},  // rotated 2x4: top-right
		{media.Rotation180, 3, 1}, // bottom-right
		{media.Rotation270, 0, 3}, // rotated 2x4: bottom-left
	}

	for _, tt := range tests {
		img, err := ConvertToRGB(markedFrame(tt.rot), RangeLimited)
		require.NoError(t, err)
		r, _, _ := img.RGBAt(tt.x, tt.y)
		assert.Equal(t, uint8(255), r, "rotation %d: marker not at (%d,%d)", tt.rot, tt.x, tt.y)

		white := 0
		for i := 0; i < len(img.Pix); i += 3 {
			if img.Pix[i] > 128 {
				white++
			}
		}
		assert.Equal(t, 1, white, "rotation %d", tt.rot)
	}
}

func TestConvert_RespectsStride(t *testing.T) {
	// Y stride padded to 8 for a 4-wide frame; padding bytes are white and must be ignored.
	f := &media.VideoFrame{
		Width: 4, Height: 2, Format: media.FormatI420,
		Planes: []media.Plane{
			{Data: []byte{16, 16, 16, 16, 235, 235, 235, 235, 16, 16, 16, 16}, Stride: 8},
			{Data: []byte{128, 128}, Stride: 2},
			{Data: []byte{128, 128}, Stride: 2},
		},
	}
	img, err := ConvertToRGB(f, RangeLimited)
	require.NoError(t, err)
	assertUniform(t, img, 0, 1)
}

func TestConvert_RGBADropsAlpha(t *testing.T) {
	f := &media.VideoFrame{
		Width: 2, Height: 1, Format: media.FormatRGBA,
		Planes: []media.Plane{{Data: []byte{10, 20, 30, 0, 40, 50, 60, 255}, Stride: 8}},
	}
	img, err := ConvertToRGB(f, RangeLimited)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 40, 50, 60}, img.Pix)
}

func TestConvert_RejectsInvalid(t *testing.T) {
	var fv *media.FrameValidationError

	_, err := ConvertToRGB(nil, RangeLimited)
	assert.ErrorAs(t, err, &fv)

	_, err = ConvertToRGB(&media.VideoFrame{Width: 0, Height: 4, Format: media.FormatI420}, RangeLimited)
	assert.ErrorAs(t, err, &fv)

	short := media.NewI420Frame(8, 8)
	short.Planes[0].Data = short.Planes[0].Data[:10]
	_, err = ConvertToRGB(short, RangeLimited)
	assert.ErrorAs(t, err, &fv)
}

func TestParseColorRange(t *testing.T) {
	r, err := ParseColorRange("")
	require.NoError(t, err)
	assert.Equal(t, RangeLimited, r)

	r, err = ParseColorRange("full")
	require.NoError(t, err)
	assert.Equal(t, RangeFull, r)

	_, err = ParseColorRange("hdr")
	assert.Error(t, err)
}

func BenchmarkConvertToRGB_VGA(b *testing.B) {
	f := solidI420(640, 480, 120, 100, 150)
	f.Rotation = media.Rotation90
	b.SetBytes(int64(media.I420Size(640, 480)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ConvertToRGB(f, RangeLimited)
	}
}
