package streamcapture

import (
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	"github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture/internal/gstcam"
)

// gstCamera adapts gstcam.Camera to CameraDevice
// (gstcam keeps its own config type to avoid an import cycle).
type gstCamera struct {
	*gstcam.Camera
}

// NewGStreamerCamera returns the production camera device (v4l2src for USB,
// libcamerasrc for CSI).
func NewGStreamerCamera() CameraDevice {
	return gstCamera{Camera: gstcam.NewCamera()}
}

func (g gstCamera) Build(camera media.CameraDescriptor, format VideoFormat) error {
	return g.Camera.Build(camera, gstcam.VideoConfig{
		Width:  format.Width,
		Height: format.Height,
		FPS:    format.FPS,
	})
}

// NewGStreamerMicrophone returns a microphone device reading through alsasrc.
func NewGStreamerMicrophone(device string) MicrophoneDevice {
	return gstcam.NewMicrophone(device)
}

// ProbeCSI reports whether a libcamera (CSI) sensor answers within timeout.
func ProbeCSI(timeout time.Duration) bool {
	return gstcam.ProbeCSI(timeout)
}
