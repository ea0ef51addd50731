package media

import (
	"fmt"
	"strconv"
	"strings"
)

// CameraKind distinguishes the Pi camera connector from UVC cameras.
type CameraKind int

const (
	CameraCSI CameraKind = iota
	CameraUSB
)

// String returns "CSI" or "USB".
func (k CameraKind) String() string {
	if k == CameraCSI {
		return "CSI"
	}
	return "USB"
}

// CameraDescriptor identifies one camera. It is an immutable value: switching cameras
// builds a new descriptor.
type CameraDescriptor struct {
	// ID is "CSI" or "USB:<index>".
	ID   string
	Name string
	Kind CameraKind
	// Index is the /dev/video index for USB cameras, -1 for CSI.
	Index int
}

// CSICamera returns the descriptor for the camera on the CSI connector.
func CSICamera(name string) CameraDescriptor {
	if name == "" {
		name = "CSI Camera"
	}
	return CameraDescriptor{ID: "CSI", Name: name, Kind: CameraCSI, Index: -1}
}

// USBCamera returns the descriptor for /dev/video<index>.
func USBCamera(index int, name string) CameraDescriptor {
	return CameraDescriptor{ID: fmt.Sprintf("USB:%d", index), Name: name, Kind: CameraUSB, Index: index}
}

// ParseCameraID converts an ID produced by CSICamera or USBCamera back into a descriptor.
// The name is left empty.
func ParseCameraID(id string) (CameraDescriptor, error) {
	if strings.EqualFold(id, "CSI") {
		return CameraDescriptor{ID: "CSI", Kind: CameraCSI, Index: -1}, nil
	}
	rest, ok := strings.CutPrefix(id, "USB:")
	if !ok {
		return CameraDescriptor{}, fmt.Errorf("media: unknown camera id %q", id)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return CameraDescriptor{}, fmt.Errorf("media: invalid camera index in %q", id)
	}
	return CameraDescriptor{ID: id, Kind: CameraUSB, Index: idx}, nil
}

// DevicePath returns /dev/video<index> for USB cameras and "" for CSI.
func (c CameraDescriptor) DevicePath() string {
	if c.Kind != CameraUSB {
		return ""
	}
	return fmt.Sprintf("/dev/video%d", c.Index)
}

// String implements fmt.Stringer.
func (c CameraDescriptor) String() string {
	if c.Name == "" {
		return c.ID
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.ID)
}

// DeviceInfo is one enumerated capture or playback device.
type DeviceInfo struct {
	Name string
	// ID is the backend address of the device, e.g. "hw:1,0" for ALSA.
	ID string
}
