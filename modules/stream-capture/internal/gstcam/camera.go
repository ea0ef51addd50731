package gstcam

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// OpenTimeout bounds how long Open waits for the pipeline to reach PLAYING.
const OpenTimeout = 5 * time.Second

// Camera is a GStreamer camera graph ending in an I420 appsink.
//
// Build parses the graph once; Open/Close move it between PLAYING and NULL so the
// same graph can be restarted without being rebuilt. The buffer backing the last
// frame stays mapped until the next PullFrame or Close.
type Camera struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	camera   media.CameraDescriptor
	cfg      VideoConfig
	playing  bool
	held     *gst.Buffer
}

// NewCamera creates an unconfigured camera device.
func NewCamera() *Camera {
	gst.Init(nil)
	return &Camera{}
}

// Build parses the capture graph for camera. Any previous graph is released.
func (c *Camera) Build(camera media.CameraDescriptor, cfg VideoConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()
	c.pipeline, c.sink = nil, nil

	launch, err := CameraLaunch(camera, cfg)
	if err != nil {
		return &media.PipelineBuildError{Description: camera.String(), Err: err}
	}

	slog.Debug("gstcam: building camera pipeline", "camera", camera.ID, "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return typedError(camera.String(), err.Error(), "", ErrCategoryPipeline)
	}

	elem, err := pipeline.GetElementByName(videoSinkName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return &media.PipelineBuildError{Description: camera.String(), Err: fmt.Errorf("appsink not found: %w", err)}
	}

	c.pipeline = pipeline
	c.sink = app.SinkFromElement(elem)
	c.camera = camera
	c.cfg = cfg
	return nil
}

// Open moves the graph to PLAYING and waits until it gets there or fails.
func (c *Camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pipeline == nil {
		return &media.PipelineBuildError{Description: c.camera.String(), Err: errors.New("pipeline not built")}
	}
	if c.playing {
		return nil
	}

	if err := waitPlaying(c.pipeline, c.camera.String(), OpenTimeout); err != nil {
		c.pipeline.SetState(gst.StateNull)
		return err
	}
	c.playing = true

	slog.Info("gstcam: camera pipeline playing", "camera", c.camera.ID)
	return nil
}

// PullFrame waits up to timeout for the next I420 frame.
func (c *Camera) PullFrame(timeout time.Duration) (*media.VideoFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()
	if !c.playing {
		return nil, io.EOF
	}

	if err := drainBus(c.pipeline, c.camera.String()); err != nil {
		return nil, err
	}

	sample := c.sink.TryPullSample(timeout)
	if sample == nil {
		if c.sink.IsEOS() {
			return nil, io.EOF
		}
		return nil, media.ErrNoSample
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("gstcam: sample without buffer")
	}

	data := buffer.Map(gst.MapRead).Bytes()
	planes, err := i420Planes(data, c.cfg.Width, c.cfg.Height)
	if err != nil {
		buffer.Unmap()
		return nil, err
	}
	c.held = buffer

	return &media.VideoFrame{
		Width:  c.cfg.Width,
		Height: c.cfg.Height,
		Format: media.FormatI420,
		Planes: planes,
	}, nil
}

// Close stops the graph and releases the device. Idempotent; the graph stays built.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()
	if c.pipeline == nil || !c.playing {
		return nil
	}
	c.playing = false

	if err := c.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstcam: failed to set pipeline to NULL: %w", err)
	}
	return nil
}

func (c *Camera) releaseLocked() {
	if c.held != nil {
		c.held.Unmap()
		c.held = nil
	}
}

// waitPlaying starts pipeline and polls its bus until it reports PLAYING, an error,
// or timeout.
func waitPlaying(pipeline *gst.Pipeline, device string, timeout time.Duration) error {
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return typedError(device, err.Error(), "", ErrCategoryDevice)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstcam: pipeline error while opening",
				"device", device,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", Classify(gerr.Error(), gerr.DebugString()).String(),
			)
			return typedError(device, gerr.Error(), gerr.DebugString(), ErrCategoryDevice)

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			old, state := msg.ParseStateChanged()
			slog.Debug("gstcam: pipeline state changed", "device", device, "from", old, "to", state)
			if state == gst.StatePlaying {
				return nil
			}
		}
	}

	return &media.DeviceOpenError{Device: device, Err: fmt.Errorf("timed out after %s waiting for PLAYING", timeout)}
}

// drainBus consumes pending bus messages without blocking. An error message becomes a
// typed error (structural) or a plain one (transient); end of stream becomes io.EOF.
func drainBus(pipeline *gst.Pipeline, device string) error {
	bus := pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return io.EOF
		case gst.MessageError:
			gerr := msg.ParseError()
			return typedError(device, gerr.Error(), gerr.DebugString(), ErrCategoryStream)
		}
	}
}
