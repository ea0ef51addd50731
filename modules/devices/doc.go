// Package devices enumerates capture and playback devices and applies the kiosk's
// name-matching selection policy.
//
// Audio devices come from `arecord -l` / `aplay -l`. Cameras come from a libcamerasrc
// probe (the CSI connector) and `v4l2-ctl --list-devices` (UVC cameras), skipping the
// Raspberry Pi's platform video nodes.
package devices
