package alsa

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// cardLine matches `arecord -l` / `aplay -l` device lines:
//
//	card 1: M1066 [Yundea M1066], device 0: USB Audio [USB Audio]
var cardLine = regexp.MustCompile(`^card (\d+): ([^\[]*)\[([^\]]*)\], device (\d+): ([^\[]*)\[([^\]]*)\]`)

// ParseDeviceList parses `arecord -l` or `aplay -l` output into devices in listing order.
// IDs are "hw:<card>,<device>"; names are "<card name>: <device name>".
func ParseDeviceList(output string) []media.DeviceInfo {
	var devices []media.DeviceInfo
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		m := cardLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}
		cardName := strings.TrimSpace(m[3])
		if cardName == "" {
			cardName = strings.TrimSpace(m[2])
		}
		devName := strings.TrimSpace(m[6])
		if devName == "" {
			devName = strings.TrimSpace(m[5])
		}
		devices = append(devices, media.DeviceInfo{
			Name: fmt.Sprintf("%s: %s", cardName, devName),
			ID:   fmt.Sprintf("hw:%s,%s", m[1], m[4]),
		})
	}
	return devices
}

// ListCaptureDevices runs `arecord -l`.
func ListCaptureDevices(ctx context.Context) ([]media.DeviceInfo, error) {
	out, err := runList(ctx, recordBinary)
	if err != nil {
		return nil, err
	}
	return ParseDeviceList(out), nil
}

// ListPlaybackDevices runs `aplay -l`.
func ListPlaybackDevices(ctx context.Context) ([]media.DeviceInfo, error) {
	out, err := runList(ctx, playBinary)
	if err != nil {
		return nil, err
	}
	return ParseDeviceList(out), nil
}
