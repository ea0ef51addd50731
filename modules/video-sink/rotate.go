package videosink

import "github.com/e7canasta/orion-kiosk-bridge/modules/media"

// rotator maps a source pixel to its byte offset in a rotated RGB destination.
//
// Rotation is clockwise. For a w x h source:
//
//	0:   (x, y)         → (x, y)
//	90:  (x, y)         → (h-1-y, x)
//	180: (x, y)         → (w-1-x, h-1-y)
//	270: (x, y)         → (y, w-1-x)
type rotator struct {
	w, h int
	rot  media.Rotation
}

func newRotator(w, h int, rot media.Rotation) rotator {
	return rotator{w: w, h: h, rot: rot}
}

func (r rotator) dest(x, y int) (int, int) {
	switch r.rot {
	case media.Rotation90:
		return r.h - 1 - y, x
	case media.Rotation180:
		return r.w - 1 - x, r.h - 1 - y
	case media.Rotation270:
		return y, r.w - 1 - x
	default:
		return x, y
	}
}

func (r rotator) index(x, y, stride int) int {
	dx, dy := r.dest(x, y)
	return dy*stride + dx*3
}
