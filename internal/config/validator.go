package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/e7canasta/orion-kiosk-bridge/modules/devices"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
	videosink "github.com/e7canasta/orion-kiosk-bridge/modules/video-sink"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Engine modes
const (
	EngineHost     = "host"
	EngineLoopback = "loopback"
)

// Event encodings
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.MaxJoinTimeouts <= 0 {
		cfg.MaxJoinTimeouts = 3
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateAudio(&cfg.Audio); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := validateVideo(&cfg.Video); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateMQTT(&cfg.MQTT, cfg.InstanceID); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	if c.Width == 0 && c.Height == 0 {
		c.Width, c.Height = 640, 480
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.FPS == 0 {
		c.FPS = 15
	}
	if c.FPS < 1 || c.FPS > 60 {
		return fmt.Errorf("fps must be 1-60, got %d", c.FPS)
	}
	if c.PreferredID != "" {
		if _, err := media.ParseCameraID(c.PreferredID); err != nil {
			return fmt.Errorf("preferred_id: %w", err)
		}
	}
	if c.SkipKeywords == nil {
		c.SkipKeywords = devices.DefaultSkipKeywords
	}
	return nil
}

func validateAudio(a *AudioConfig) error {
	if len(a.Preferences) == 0 {
		a.Preferences = devices.DefaultPreferences
	}

	switch a.CaptureBackend {
	case "":
		a.CaptureBackend = "alsa"
	case "alsa", "gstreamer":
	default:
		return fmt.Errorf("capture_backend must be 'alsa' or 'gstreamer', got '%s'", a.CaptureBackend)
	}
	switch a.PlaybackBackend {
	case "":
		a.PlaybackBackend = "alsa"
	case "alsa", "oto":
	default:
		return fmt.Errorf("playback_backend must be 'alsa' or 'oto', got '%s'", a.PlaybackBackend)
	}

	for name, v := range map[string]**int{"mic_volume": &a.MicVolume, "speaker_volume": &a.SpeakerVolume} {
		if *v == nil {
			full := 100
			*v = &full
			continue
		}
		if **v < 0 || **v > 100 {
			return fmt.Errorf("%s must be 0-100, got %d", name, **v)
		}
	}

	if a.RenderQueueChunks <= 0 {
		a.RenderQueueChunks = 50
	}
	return nil
}

func validateVideo(v *VideoConfig) error {
	if v.GPURendering == nil {
		on := true
		v.GPURendering = &on
	}
	r, err := videosink.ParseColorRange(v.ColorRange)
	if err != nil {
		return err
	}
	v.ColorRange = r.String()
	return nil
}

func validateEngine(e *EngineConfig) error {
	// Secrets may stay out of the file
	if e.AppID == "" {
		e.AppID = os.Getenv("KIOSK_APP_ID")
	}
	if e.AppKey == "" {
		e.AppKey = os.Getenv("KIOSK_APP_KEY")
	}

	switch e.Mode {
	case "":
		e.Mode = EngineLoopback
	case EngineLoopback:
	case EngineHost:
		if e.HostBinary == "" {
			return fmt.Errorf("host_binary is required in host mode")
		}
		if e.RoomID == "" {
			return fmt.Errorf("room_id is required in host mode")
		}
	default:
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", EngineHost, EngineLoopback, e.Mode)
	}
	return nil
}

func validateMQTT(m *MQTTConfig, instanceID string) error {
	if m.ClientID == "" {
		m.ClientID = "kiosk-bridge-" + instanceID
	}

	// Set default topics if not provided
	if m.Topics.Control == "" {
		m.Topics.Control = fmt.Sprintf("kiosk/control/%s", instanceID)
	}
	if m.Topics.Events == "" {
		m.Topics.Events = fmt.Sprintf("kiosk/events/%s", instanceID)
	}
	if m.Topics.Status == "" {
		m.Topics.Status = fmt.Sprintf("kiosk/status/%s", instanceID)
	}

	// Set default QoS if not provided
	if m.QoS == nil {
		m.QoS = map[string]byte{
			"control": 1,
			"events":  1,
			"status":  0,
		}
	}

	switch m.EventEncoding {
	case "":
		m.EventEncoding = EncodingJSON
	case EncodingJSON, EncodingMsgpack:
	default:
		return fmt.Errorf("event_encoding must be 'json' or 'msgpack', got '%s'", m.EventEncoding)
	}
	if m.StatusIntervalS <= 0 {
		m.StatusIntervalS = 10
	}
	return nil
}
