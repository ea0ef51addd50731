package streamcapture

import "github.com/e7canasta/orion-kiosk-bridge/internal/alsa"

// NewALSAMicrophone returns an arecord-backed microphone for an ALSA id such as "hw:1,0".
func NewALSAMicrophone(device string) MicrophoneDevice {
	return alsa.NewRecorder(device)
}
