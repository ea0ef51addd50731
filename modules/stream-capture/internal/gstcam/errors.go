package gstcam

import (
	"errors"
	"strings"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// ErrorCategory classifies a GStreamer failure for the bridge error taxonomy
type ErrorCategory int

const (
	// ErrCategoryDevice indicates a busy, absent or unplugged device (caller may retry)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryPipeline indicates a graph that cannot be built or negotiated
	ErrCategoryPipeline
	// ErrCategoryStream indicates a transient streaming hiccup
	ErrCategoryStream
)

// String returns a human-readable string representation of the category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryPipeline:
		return "pipeline"
	case ErrCategoryStream:
		return "stream"
	default:
		return "unknown"
	}
}

var (
	deviceKeywords = []string{
		"busy",
		"no such file",
		"no such device",
		"permission denied",
		"cannot identify device",
		"could not open device",
		"could not open resource",
		"could not read from resource",
		"failed to allocate",
		"no cameras available",
		"device not found",
		"audio device",
	}

	pipelineKeywords = []string{
		"no element",
		"no such element",
		"erroneous pipeline",
		"could not link",
		"not negotiated",
		"caps",
		"missing plugin",
		"syntax error",
		"no property",
	}
)

// Classify categorises a GStreamer error message and its debug string.
//
// Priority: pipeline keywords first (most specific), then device keywords; anything
// else is a transient stream error. go-gst's GError does not expose the domain, so
// classification relies on string matching.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	if containsAny(combined, pipelineKeywords) {
		return ErrCategoryPipeline
	}
	if containsAny(combined, deviceKeywords) {
		return ErrCategoryDevice
	}
	return ErrCategoryStream
}

// typedError wraps a GStreamer failure into the bridge taxonomy.
//
// fallback is used for stream-category errors that happen in a phase where a
// transient answer makes no sense (building or opening).
func typedError(device, message, debug string, fallback ErrorCategory) error {
	cause := errors.New(message)
	if debug != "" {
		cause = errors.New(message + " (" + debug + ")")
	}

	category := Classify(message, debug)
	if category == ErrCategoryStream {
		category = fallback
	}

	switch category {
	case ErrCategoryPipeline:
		return &media.PipelineBuildError{Description: device, Err: cause}
	case ErrCategoryDevice:
		return &media.DeviceOpenError{Device: device, Err: cause}
	default:
		return cause
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
