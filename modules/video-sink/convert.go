package videosink

import (
	"fmt"
	"image"
	"image/color"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// ColorRange selects how luma is interpreted.
type ColorRange int

const (
	// RangeLimited expands studio swing (Y 16-235, UV 16-240) to 0-255.
	RangeLimited ColorRange = iota
	// RangeFull uses Y and UV as-is (JPEG/full swing).
	RangeFull
)

// String returns "limited" or "full".
func (r ColorRange) String() string {
	if r == RangeFull {
		return "full"
	}
	return "limited"
}

// ParseColorRange maps "limited"/"full" ("" is limited).
func ParseColorRange(s string) (ColorRange, error) {
	switch s {
	case "", "limited", "tv":
		return RangeLimited, nil
	case "full", "pc":
		return RangeFull, nil
	}
	return RangeLimited, fmt.Errorf("video-sink: unknown color range %q", s)
}

// RGBImage is an interleaved 8-bit RGB image (3 bytes per pixel, no alpha).
//
// It implements image.Image so it can be handed to image encoders directly.
type RGBImage struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewRGBImage allocates a black w x h image.
func NewRGBImage(w, h int) *RGBImage {
	return &RGBImage{Width: w, Height: h, Stride: w * 3, Pix: make([]byte, w*h*3)}
}

// ColorModel implements image.Image.
func (m *RGBImage) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (m *RGBImage) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// At implements image.Image.
func (m *RGBImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return color.RGBA{}
	}
	i := y*m.Stride + x*3
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

// RGBAt returns the pixel at (x, y).
func (m *RGBImage) RGBAt(x, y int) (r, g, b uint8) {
	i := y*m.Stride + x*3
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// ConvertToRGB converts an I420 or RGBA frame to RGB with the frame's rotation applied.
//
// I420 uses BT.601 integer coefficients with chroma sampled at (x/2, y/2); RGBA is
// copied with its alpha dropped. For 90 and 270 degrees the output dimensions are the
// frame's swapped. The frame is validated first.
func ConvertToRGB(frame *media.VideoFrame, rng ColorRange) (*RGBImage, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	w, h := frame.DisplaySize()
	dst := NewRGBImage(w, h)
	rot := newRotator(frame.Width, frame.Height, frame.Rotation)

	switch frame.Format {
	case media.FormatI420:
		convertI420(dst, frame, rot, rng)
	case media.FormatRGBA:
		convertRGBA(dst, frame, rot)
	}
	return dst, nil
}

func convertI420(dst *RGBImage, frame *media.VideoFrame, rot rotator, rng ColorRange) {
	yp, up, vp := frame.Planes[0], frame.Planes[1], frame.Planes[2]
	pixel := yuvLimited
	if rng == RangeFull {
		pixel = yuvFull
	}

	for sy := 0; sy < frame.Height; sy++ {
		yRow := yp.Data[sy*yp.Stride:]
		uRow := up.Data[(sy/2)*up.Stride:]
		vRow := vp.Data[(sy/2)*vp.Stride:]
		for sx := 0; sx < frame.Width; sx++ {
			r, g, b := pixel(int(yRow[sx]), int(uRow[sx/2]), int(vRow[sx/2]))
			i := rot.index(sx, sy, dst.Stride)
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = r, g, b
		}
	}
}

func convertRGBA(dst *RGBImage, frame *media.VideoFrame, rot rotator) {
	p := frame.Planes[0]
	for sy := 0; sy < frame.Height; sy++ {
		row := p.Data[sy*p.Stride:]
		for sx := 0; sx < frame.Width; sx++ {
			s := sx * 4
			i := rot.index(sx, sy, dst.Stride)
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = row[s], row[s+1], row[s+2]
		}
	}
}

// yuvLimited is BT.601 studio swing in 8.8 fixed point:
//
//	R = 1.164(Y-16) + 1.596(V-128)
//	G = 1.164(Y-16) - 0.391(U-128) - 0.813(V-128)
//	B = 1.164(Y-16) + 2.018(U-128)
func yuvLimited(y, u, v int) (uint8, uint8, uint8) {
	c := 298 * (y - 16)
	d := u - 128
	e := v - 128
	return clamp8((c + 409*e + 128) >> 8),
		clamp8((c - 100*d - 208*e + 128) >> 8),
		clamp8((c + 516*d + 128) >> 8)
}

// yuvFull is BT.601 full swing in 8.8 fixed point:
//
//	R = Y + 1.402(V-128)
//	G = Y - 0.344(U-128) - 0.714(V-128)
//	B = Y + 1.772(U-128)
func yuvFull(y, u, v int) (uint8, uint8, uint8) {
	d := u - 128
	e := v - 128
	return clamp8(y + (359*e+128)>>8),
		clamp8(y - (88*d+183*e+128)>>8),
		clamp8(y + (454*d+128)>>8)
}

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
