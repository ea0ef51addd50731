// Package media holds the value types shared by the capture, render and sink modules:
// video frames, audio chunks, camera descriptors and the bridge error taxonomy.
package media

import (
	"fmt"
)

// PixelFormat identifies the memory layout of a VideoFrame.
type PixelFormat int

const (
	// FormatI420 is planar YUV 4:2:0: full resolution Y, quarter resolution U and V.
	FormatI420 PixelFormat = iota
	// FormatRGBA is a single interleaved plane, 4 bytes per pixel.
	FormatRGBA
)

// String returns a human-readable name for the format.
func (f PixelFormat) String() string {
	switch f {
	case FormatI420:
		return "I420"
	case FormatRGBA:
		return "RGBA"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Supported reports whether the bridge can carry frames in this format.
func (f PixelFormat) Supported() bool {
	return f == FormatI420 || f == FormatRGBA
}

// Rotation is the clockwise rotation, in degrees, to apply when displaying a frame.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Valid reports whether r is one of the four right-angle rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// Swaps reports whether the rotation exchanges width and height.
func (r Rotation) Swaps() bool {
	return r == Rotation90 || r == Rotation270
}

// Plane is one image plane and the distance in bytes between its rows.
type Plane struct {
	Data   []byte
	Stride int
}

// VideoFrame is a raw video frame travelling through the bridge.
//
// Plane layout by format:
//   - I420: Planes[0]=Y (w x h), Planes[1]=U and Planes[2]=V (ceil(w/2) x ceil(h/2))
//   - RGBA: Planes[0]=RGBA (w*4 bytes per row)
//
// Frames handed to the bridge by an engine callback are only valid for the duration of
// the call; use Clone to retain one.
type VideoFrame struct {
	Width    int
	Height   int
	Format   PixelFormat
	Planes   []Plane
	Rotation Rotation
	// TimestampUS is the capture time in monotonic microseconds.
	TimestampUS int64
	// Seq is the monotonic sequence number assigned by the producer.
	Seq uint64
	// TraceID identifies the frame in logs.
	TraceID string
}

// ChromaSize returns the dimensions of the U and V planes of an I420 frame.
func ChromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// I420Size returns the number of bytes of a tightly packed I420 frame.
func I420Size(width, height int) int {
	cw, ch := ChromaSize(width, height)
	return width*height + 2*cw*ch
}

// NewI420Frame allocates a tightly packed I420 frame.
func NewI420Frame(width, height int) *VideoFrame {
	cw, ch := ChromaSize(width, height)
	return &VideoFrame{
		Width:  width,
		Height: height,
		Format: FormatI420,
		Planes: []Plane{
			{Data: make([]byte, width*height), Stride: width},
			{Data: make([]byte, cw*ch), Stride: cw},
			{Data: make([]byte, cw*ch), Stride: cw},
		},
	}
}

// planeGeometry returns the visible width in bytes and the row count of plane i.
func (f *VideoFrame) planeGeometry(i int) (rowBytes, rows int) {
	switch f.Format {
	case FormatI420:
		if i == 0 {
			return f.Width, f.Height
		}
		return ChromaSize(f.Width, f.Height)
	case FormatRGBA:
		return f.Width * 4, f.Height
	}
	return 0, 0
}

// expectedPlanes returns the plane count required by the frame format.
func (f *VideoFrame) expectedPlanes() int {
	switch f.Format {
	case FormatI420:
		return 3
	case FormatRGBA:
		return 1
	}
	return 0
}

// Validate checks the frame geometry against its format.
//
// A frame is valid when it is non-nil, has positive dimensions, a supported format,
// a valid rotation, the plane count of its format, and every plane has a stride of at
// least its visible row width and enough bytes for all of its rows (the last row may
// stop at the visible width).
func (f *VideoFrame) Validate() error {
	if f == nil {
		return &FrameValidationError{Reason: "nil frame"}
	}
	if f.Width <= 0 || f.Height <= 0 {
		return &FrameValidationError{Reason: fmt.Sprintf("invalid dimensions %dx%d", f.Width, f.Height)}
	}
	if !f.Format.Supported() {
		return &FrameValidationError{Reason: fmt.Sprintf("unsupported pixel format %s", f.Format)}
	}
	if !f.Rotation.Valid() {
		return &FrameValidationError{Reason: fmt.Sprintf("invalid rotation %d", int(f.Rotation))}
	}
	if len(f.Planes) != f.expectedPlanes() {
		return &FrameValidationError{Reason: fmt.Sprintf("%s frame needs %d planes, got %d",
			f.Format, f.expectedPlanes(), len(f.Planes))}
	}
	for i, p := range f.Planes {
		rowBytes, rows := f.planeGeometry(i)
		if p.Stride < rowBytes {
			return &FrameValidationError{Reason: fmt.Sprintf("plane %d stride %d < row width %d", i, p.Stride, rowBytes)}
		}
		need := p.Stride*(rows-1) + rowBytes
		if len(p.Data) < need {
			return &FrameValidationError{Reason: fmt.Sprintf("plane %d has %d bytes, need %d", i, len(p.Data), need)}
		}
	}
	return nil
}

// Clone returns a deep copy of the frame with tightly packed planes.
//
// The source frame must be valid.
func (f *VideoFrame) Clone() *VideoFrame {
	out := *f
	out.Planes = make([]Plane, len(f.Planes))
	for i, p := range f.Planes {
		rowBytes, rows := f.planeGeometry(i)
		dst := make([]byte, rowBytes*rows)
		for y := 0; y < rows; y++ {
			copy(dst[y*rowBytes:(y+1)*rowBytes], p.Data[y*p.Stride:y*p.Stride+rowBytes])
		}
		out.Planes[i] = Plane{Data: dst, Stride: rowBytes}
	}
	return &out
}

// DisplaySize returns the frame dimensions after rotation.
func (f *VideoFrame) DisplaySize() (int, int) {
	if f.Rotation.Swaps() {
		return f.Height, f.Width
	}
	return f.Width, f.Height
}
