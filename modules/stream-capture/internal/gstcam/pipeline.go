// Package gstcam implements the camera and microphone devices on top of GStreamer.
package gstcam

import (
	"fmt"
	"strings"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Element names looked up after parsing a launch description.
const (
	videoSinkName = "bridgesink"
	audioSinkName = "micsink"
)

// VideoConfig is the raw format requested from a camera graph.
type VideoConfig struct {
	Width  int
	Height int
	FPS    int
}

// CameraLaunch returns the gst-launch description for camera.
//
// USB pipeline:
//
//	v4l2src device=/dev/videoN → caps(W×H) → videorate → caps(F/1) →
//	videoconvert → caps(I420) → appsink
//
// CSI pipeline:
//
//	libcamerasrc → videoconvert → videoscale → caps(W×H) → videorate → caps(F/1) →
//	videoconvert → caps(I420) → appsink
//
// The appsink keeps at most 2 buffers and drops the oldest, so a slow consumer
// never backs up the sensor.
func CameraLaunch(camera media.CameraDescriptor, cfg VideoConfig) (string, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return "", fmt.Errorf("gstcam: invalid video config %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}

	var src string
	switch camera.Kind {
	case media.CameraUSB:
		if camera.Index < 0 {
			return "", fmt.Errorf("gstcam: USB camera without device index")
		}
		src = fmt.Sprintf("v4l2src device=%s ! video/x-raw,width=%d,height=%d",
			camera.DevicePath(), cfg.Width, cfg.Height)
	case media.CameraCSI:
		src = fmt.Sprintf("libcamerasrc ! videoconvert ! videoscale ! video/x-raw,width=%d,height=%d",
			cfg.Width, cfg.Height)
	default:
		return "", fmt.Errorf("gstcam: unsupported camera kind %v", camera.Kind)
	}

	return strings.Join([]string{
		src,
		"videorate",
		fmt.Sprintf("video/x-raw,framerate=%d/1", cfg.FPS),
		"videoconvert",
		"video/x-raw,format=I420",
		fmt.Sprintf("appsink name=%s max-buffers=2 drop=true sync=false", videoSinkName),
	}, " ! "), nil
}

// MicrophoneLaunch returns the gst-launch description for an ALSA capture device.
// An empty device uses the ALSA default.
func MicrophoneLaunch(device string, format media.AudioFormat) string {
	src := "alsasrc"
	if device != "" {
		src = fmt.Sprintf("alsasrc device=%s", device)
	}
	return strings.Join([]string{
		src,
		"audioconvert",
		"audioresample",
		fmt.Sprintf("audio/x-raw,format=S16LE,rate=%d,channels=%d,layout=interleaved",
			format.SampleRate, format.Channels),
		fmt.Sprintf("appsink name=%s max-buffers=50 drop=true sync=false", audioSinkName),
	}, " ! ")
}

// CSIProbeLaunch is the minimal graph used to detect a libcamera sensor.
const CSIProbeLaunch = "libcamerasrc ! fakesink"

// i420Planes splits a tightly packed I420 buffer into planes.
//
// Offsets: Y at 0, U at w·h, V at w·h + cw·ch with strides w, cw, cw where
// cw×ch is the chroma size (ceil of half).
func i420Planes(data []byte, width, height int) ([]media.Plane, error) {
	need := media.I420Size(width, height)
	if len(data) < need {
		return nil, fmt.Errorf("gstcam: short I420 buffer: %d bytes, need %d for %dx%d",
			len(data), need, width, height)
	}

	cw, ch := media.ChromaSize(width, height)
	ySize := width * height
	cSize := cw * ch

	return []media.Plane{
		{Data: data[:ySize:ySize], Stride: width},
		{Data: data[ySize : ySize+cSize : ySize+cSize], Stride: cw},
		{Data: data[ySize+cSize : ySize+2*cSize : ySize+2*cSize], Stride: cw},
	}, nil
}
