package devices

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/internal/alsa"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	streamcapture "github.com/e7canasta/orion-kiosk-bridge/modules/stream-capture"
)

// DefaultSkipKeywords are v4l2 device names that are not cameras on a Raspberry Pi 5:
// the CSI front end, the ISP back end and the codec nodes.
var DefaultSkipKeywords = []string{"rp1-cfe", "pispbe", "hevc-dec", "bcm2835"}

// csiProbeTimeout bounds the libcamerasrc probe.
const csiProbeTimeout = 2 * time.Second

// Enumerator lists the devices the bridge can select from.
type Enumerator interface {
	ListCaptureDevices(ctx context.Context) ([]media.DeviceInfo, error)
	ListPlaybackDevices(ctx context.Context) ([]media.DeviceInfo, error)
	ListCameras(ctx context.Context) ([]media.CameraDescriptor, error)
}

// SystemEnumerator enumerates ALSA devices with arecord/aplay and cameras with a
// libcamerasrc probe (CSI) plus `v4l2-ctl --list-devices` (USB).
type SystemEnumerator struct {
	// SkipKeywords exclude v4l2 devices whose name contains any of them
	SkipKeywords []string
	// ProbeCSI reports whether a CSI sensor is present
	ProbeCSI func(timeout time.Duration) bool
	// ListV4L2 returns `v4l2-ctl --list-devices` output
	ListV4L2 func(ctx context.Context) (string, error)
}

// NewSystemEnumerator returns an enumerator wired to the real system tools.
func NewSystemEnumerator() *SystemEnumerator {
	return &SystemEnumerator{
		SkipKeywords: DefaultSkipKeywords,
		ProbeCSI:     streamcapture.ProbeCSI,
		ListV4L2:     runV4L2List,
	}
}

// ListCaptureDevices implements Enumerator.
func (e *SystemEnumerator) ListCaptureDevices(ctx context.Context) ([]media.DeviceInfo, error) {
	return alsa.ListCaptureDevices(ctx)
}

// ListPlaybackDevices implements Enumerator.
func (e *SystemEnumerator) ListPlaybackDevices(ctx context.Context) ([]media.DeviceInfo, error) {
	return alsa.ListPlaybackDevices(ctx)
}

// ListCameras returns the CSI camera first (if probed) followed by USB cameras in
// v4l2-ctl order. A missing v4l2-ctl is not an error; it only hides USB cameras.
func (e *SystemEnumerator) ListCameras(ctx context.Context) ([]media.CameraDescriptor, error) {
	var cams []media.CameraDescriptor

	if e.ProbeCSI != nil && e.ProbeCSI(csiProbeTimeout) {
		cams = append(cams, media.CSICamera("CSI Camera"))
		slog.Info("devices: detected CSI camera")
	}

	if e.ListV4L2 != nil {
		out, err := e.ListV4L2(ctx)
		if err != nil {
			slog.Warn("devices: v4l2-ctl unavailable, USB cameras not listed", "error", err)
		} else {
			usb := ParseV4L2Devices(out, e.SkipKeywords)
			for _, c := range usb {
				slog.Info("devices: detected USB camera", "id", c.ID, "name", c.Name)
			}
			cams = append(cams, usb...)
		}
	}

	slog.Info("devices: camera detection complete", "cameras", len(cams))
	return cams, nil
}

var videoNode = regexp.MustCompile(`^/dev/video(\d+)$`)

// ParseV4L2Devices parses `v4l2-ctl --list-devices` output.
//
// Each unindented line names a device; indented lines list its nodes. The first
// /dev/videoN of every device not matching skip becomes "USB:N" named "<device> (videoN)",
// where <device> is the header up to the first '(' or ':'.
func ParseV4L2Devices(output string, skip []string) []media.CameraDescriptor {
	var (
		cams    []media.CameraDescriptor
		current string
		taken   bool
	)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			current = strings.TrimSpace(line)
			taken = false
			continue
		}
		if taken || current == "" || skipped(current, skip) {
			continue
		}

		m := videoNode.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		cams = append(cams, media.USBCamera(index, fmt.Sprintf("%s (video%d)", deviceLabel(current), index)))
		taken = true
	}
	return cams
}

func skipped(device string, keywords []string) bool {
	lower := strings.ToLower(device)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// deviceLabel trims "UVC Camera: UVC Camera (usb-xhci-hcd.0-1):" to "UVC Camera".
func deviceLabel(header string) string {
	label := header
	if i := strings.Index(label, "("); i >= 0 {
		label = label[:i]
	}
	if i := strings.Index(label, ":"); i >= 0 {
		label = label[:i]
	}
	return strings.TrimSpace(label)
}

func runV4L2List(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "v4l2-ctl", "--list-devices").Output()
	if err != nil && len(out) == 0 {
		return "", fmt.Errorf("v4l2-ctl --list-devices: %w", err)
	}
	// v4l2-ctl exits non-zero when some node cannot be opened but still lists the rest.
	return string(out), nil
}

// PickCamera chooses the camera to open: preferredID when present, else the CSI camera,
// else the first USB camera.
func PickCamera(cams []media.CameraDescriptor, preferredID string) (media.CameraDescriptor, bool) {
	if preferredID != "" {
		for _, c := range cams {
			if c.ID == preferredID {
				return c, true
			}
		}
	}
	for _, c := range cams {
		if c.Kind == media.CameraCSI {
			return c, true
		}
	}
	for _, c := range cams {
		if c.Kind == media.CameraUSB {
			return c, true
		}
	}
	return media.CameraDescriptor{}, false
}
