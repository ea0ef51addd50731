package media

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for state machine misuse.
var (
	// ErrNotStopped is returned when an operation needs a stopped worker.
	ErrNotStopped = errors.New("media: worker is not stopped")
	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("media: worker is not configured")
	// ErrNoSample is returned by device reads that timed out without data.
	ErrNoSample = errors.New("media: no sample before timeout")
)

// DeviceOpenError reports a busy or absent device. The worker stays stopped and the
// caller may retry.
type DeviceOpenError struct {
	Device string
	Err    error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("device open failed (%s): %v", e.Device, e.Err)
}

func (e *DeviceOpenError) Unwrap() error { return e.Err }

// PipelineBuildError reports a capture graph that cannot be constructed. It is fatal to
// that configuration until the worker is reconfigured.
type PipelineBuildError struct {
	Description string
	Err         error
}

func (e *PipelineBuildError) Error() string {
	return fmt.Sprintf("pipeline build failed (%s): %v", e.Description, e.Err)
}

func (e *PipelineBuildError) Unwrap() error { return e.Err }

// FrameValidationError reports a malformed frame or chunk. The unit is dropped.
type FrameValidationError struct {
	Reason string
}

func (e *FrameValidationError) Error() string {
	return "invalid frame: " + e.Reason
}

// JoinTimeoutError reports a worker goroutine that did not exit within its join
// deadline. The device handle it owns may still be open.
type JoinTimeoutError struct {
	Worker  string
	Timeout time.Duration
}

func (e *JoinTimeoutError) Error() string {
	return fmt.Sprintf("%s did not stop within %s (device handle may leak)", e.Worker, e.Timeout)
}

// IsStructural reports whether err requires explicit reconfiguration before a retry.
func IsStructural(err error) bool {
	var pb *PipelineBuildError
	var do *DeviceOpenError
	return errors.As(err, &pb) || errors.As(err, &do)
}
