// Package streamcapture provides camera and microphone capture workers for the kiosk
// media bridge.
//
// Each worker owns exactly one device and one goroutine. Frames are pushed synchronously
// from that goroutine into the call engine's custom sources; there is no internal queue.
//
// # Quick Start
//
//	cam, err := streamcapture.NewCameraCapture(
//	    streamcapture.NewGStreamerCamera(),
//	    engine, // implements VideoPusher
//	    streamcapture.CameraConfig{Report: onFailure},
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := cam.Configure(media.USBCamera(0, "UVC Camera")); err != nil {
//	    log.Fatal(err) // *media.PipelineBuildError
//	}
//	if err := cam.Start(ctx); err != nil {
//	    log.Fatal(err) // *media.DeviceOpenError
//	}
//	defer cam.Stop()
//
// # Camera Lifecycle
//
//	Stopped → Configuring → Stopped   (Configure)
//	Stopped → Running                 (Start, idempotent while Running)
//	Running → Stopping → Stopped      (Stop, idempotent while Stopped)
//	Running → Stopped                 (end of stream, unplugged device)
//
// Configure is rejected with media.ErrNotStopped unless the worker is stopped. Switching
// cameras is Stop, Configure, Start; callers that need to restore the previous capturing
// state do so themselves.
//
// # Capture Graphs
//
// The GStreamer adapters build these graphs (see internal/gstcam):
//
//	CSI:  libcamerasrc ! videoconvert ! videoscale ! video/x-raw,width=W,height=H
//	      ! videorate ! video/x-raw,framerate=F/1 ! videoconvert
//	      ! video/x-raw,format=I420 ! appsink
//	USB:  v4l2src device=/dev/videoN ! video/x-raw,width=W,height=H
//	      ! videorate ! video/x-raw,framerate=F/1 ! videoconvert
//	      ! video/x-raw,format=I420 ! appsink
//	Mic:  alsasrc ! audioconvert ! audioresample
//	      ! audio/x-raw,format=S16LE,rate=16000,channels=1 ! appsink
//
// The appsink keeps at most two buffers and drops the oldest, so a slow consumer sees
// fresh frames instead of latency.
//
// # Microphone Pacing
//
// MicrophoneCapture pushes exactly 320 bytes (10ms of 16 kHz mono) per slot. After each
// push it sleeps until the previous deadline plus 10ms. A stall longer than MaxLag
// resyncs the schedule to now, so the engine never receives a burst of stale audio.
// Volume 0-100 is applied per sample with saturation.
//
// # Stopping
//
// Stop cancels the worker and waits at most JoinTimeout (3s). A device read that ignores
// cancellation produces a *media.JoinTimeoutError; the goroutine keeps ownership of the
// device until it returns, and Start refuses to reopen the device until then.
//
// # Failure Reporting
//
// Failures that happen off the caller's goroutine (build and open errors, end of stream,
// join timeouts) are delivered to the ReportFunc given in the config. Frame-level
// problems are counted in Stats and never reported.
//
// # Warmup
//
// CameraCapture.Warmup measures cadence stability while frames keep flowing:
//
//	stats, err := cam.Warmup(ctx, 3*time.Second)
//	log.Printf("camera stable: %v, FPS: %.2f", stats.IsStable, stats.FPSMean)
//
// # Dependencies
//
// The GStreamer adapters need gstreamer1.0 with plugins-base, plugins-good and, for CSI
// sensors, the libcamera plugin:
//
//	sudo apt-get install gstreamer1.0-tools gstreamer1.0-plugins-base \
//	    gstreamer1.0-plugins-good gstreamer1.0-libcamera gstreamer1.0-alsa
//
// # Testing
//
// A probe tool opens one camera, runs warmup and optionally writes PNG snapshots:
//
//	./bin/capture-probe -camera USB:0 -output ./frames -max-frames 10
package streamcapture
