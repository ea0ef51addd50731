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

// Microphone captures PCM through alsasrc into an appsink.
type Microphone struct {
	device string

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
}

// NewMicrophone creates a microphone for the ALSA device (empty = default).
func NewMicrophone(device string) *Microphone {
	gst.Init(nil)
	return &Microphone{device: device}
}

// Name returns the ALSA device name.
func (m *Microphone) Name() string {
	if m.device == "" {
		return "default"
	}
	return m.device
}

// Open builds and starts the capture graph for format.
func (m *Microphone) Open(format media.AudioFormat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipeline != nil {
		return nil
	}

	launch := MicrophoneLaunch(m.device, format)
	slog.Debug("gstcam: building microphone pipeline", "device", m.Name(), "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return typedError(m.Name(), err.Error(), "", ErrCategoryPipeline)
	}
	elem, err := pipeline.GetElementByName(audioSinkName)
	if err != nil {
		return &media.PipelineBuildError{Description: m.Name(), Err: fmt.Errorf("appsink not found: %w", err)}
	}

	if err := waitPlaying(pipeline, m.Name(), OpenTimeout); err != nil {
		pipeline.SetState(gst.StateNull)
		return err
	}

	m.pipeline = pipeline
	m.sink = app.SinkFromElement(elem)
	return nil
}

// Read returns the next captured buffer, copied.
func (m *Microphone) Read(timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipeline == nil {
		return nil, io.EOF
	}
	if err := drainBus(m.pipeline, m.Name()); err != nil {
		return nil, err
	}

	sample := m.sink.TryPullSample(timeout)
	if sample == nil {
		if m.sink.IsEOS() {
			return nil, io.EOF
		}
		return nil, media.ErrNoSample
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, errors.New("gstcam: sample without buffer")
	}
	data := buffer.Map(gst.MapRead).Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	buffer.Unmap()

	return out, nil
}

// Close stops the graph. Idempotent.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipeline == nil {
		return nil
	}
	err := m.pipeline.SetState(gst.StateNull)
	m.pipeline, m.sink = nil, nil
	if err != nil {
		return fmt.Errorf("gstcam: failed to set pipeline to NULL: %w", err)
	}
	return nil
}
