package devices

import (
	"log/slog"
	"strings"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// DefaultPreferences matches the kiosk's USB microphone/speaker combo.
var DefaultPreferences = []string{"USB", "Yundea", "M1066"}

// Selector picks one device per role by name.
//
// The first device, in enumeration order, whose name contains any preference
// (case-insensitive) wins. No match means no selection: the engine or driver default
// applies.
type Selector struct {
	Preferences []string
}

// NewSelector returns a selector with the given preferences (DefaultPreferences if none).
func NewSelector(preferences ...string) Selector {
	if len(preferences) == 0 {
		preferences = DefaultPreferences
	}
	return Selector{Preferences: preferences}
}

// Select returns the first matching device.
func (s Selector) Select(devs []media.DeviceInfo) (media.DeviceInfo, bool) {
	for _, d := range devs {
		name := strings.ToLower(d.Name)
		for _, p := range s.Preferences {
			if p != "" && strings.Contains(name, strings.ToLower(p)) {
				return d, true
			}
		}
	}
	return media.DeviceInfo{}, false
}

// Selection is the outcome of SelectRoles. A nil entry means the default device.
type Selection struct {
	Capture  *media.DeviceInfo
	Playback *media.DeviceInfo
}

// CaptureID returns the selected capture id, or fallback when none was selected.
func (s Selection) CaptureID(fallback string) string {
	if s.Capture == nil {
		return fallback
	}
	return s.Capture.ID
}

// PlaybackID returns the selected playback id, or fallback when none was selected.
func (s Selection) PlaybackID(fallback string) string {
	if s.Playback == nil {
		return fallback
	}
	return s.Playback.ID
}

// SelectRoles applies the policy to capture and playback devices independently.
func (s Selector) SelectRoles(capture, playback []media.DeviceInfo) Selection {
	var sel Selection
	if d, ok := s.Select(capture); ok {
		sel.Capture = &d
		slog.Info("devices: selected capture device", "name", d.Name, "id", d.ID)
	} else {
		slog.Info("devices: no preferred capture device, using default",
			"candidates", len(capture),
			"preferences", s.Preferences,
		)
	}
	if d, ok := s.Select(playback); ok {
		sel.Playback = &d
		slog.Info("devices: selected playback device", "name", d.Name, "id", d.ID)
	} else {
		slog.Info("devices: no preferred playback device, using default",
			"candidates", len(playback),
			"preferences", s.Preferences,
		)
	}
	return sel
}
