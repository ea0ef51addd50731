package gstcam

import (
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ProbeCSI reports whether a libcamera sensor is present by bringing a minimal graph
// to READY. The graph is torn down before returning.
func ProbeCSI(timeout time.Duration) bool {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(CSIProbeLaunch)
	if err != nil {
		slog.Debug("gstcam: libcamerasrc unavailable", "error", err)
		return false
	}
	defer pipeline.SetState(gst.StateNull)

	if err := pipeline.SetState(gst.StateReady); err != nil {
		slog.Debug("gstcam: CSI probe failed to reach READY", "error", err)
		return false
	}

	// libcamerasrc posts an error on the bus when no sensor is attached.
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(20 * time.Millisecond)
		if msg == nil {
			continue
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			slog.Debug("gstcam: CSI probe error", "error", gerr.Error())
			return false
		}
	}
	return true
}
