package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete kiosk bridge configuration
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	MaxJoinTimeouts  int    `yaml:"max_join_timeouts"`  // Join timeouts tolerated before the process exits (default: 3)
	HealthAddr       string `yaml:"health_addr"`        // HTTP health listen address, empty disables

	Camera CameraConfig `yaml:"camera"`
	Audio  AudioConfig  `yaml:"audio"`
	Video  VideoConfig  `yaml:"video"`
	Engine EngineConfig `yaml:"engine"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
}

// CameraConfig contains camera capture settings
type CameraConfig struct {
	PreferredID  string   `yaml:"preferred_id"` // "CSI", "USB:N" or empty for auto
	Width        int      `yaml:"width"`
	Height       int      `yaml:"height"`
	FPS          int      `yaml:"fps"`
	SkipKeywords []string `yaml:"skip_keywords"` // v4l2 devices that are not cameras
}

// AudioConfig contains microphone and speaker settings
type AudioConfig struct {
	Preferences       []string `yaml:"preferences"`      // device name substrings, first match wins
	CaptureDevice     string   `yaml:"capture_device"`   // explicit ALSA id, overrides preferences
	PlaybackDevice    string   `yaml:"playback_device"`  // explicit ALSA id, overrides preferences
	CaptureBackend    string   `yaml:"capture_backend"`  // alsa, gstreamer
	PlaybackBackend   string   `yaml:"playback_backend"` // alsa, oto
	MicVolume         *int     `yaml:"mic_volume"`       // 0-100
	SpeakerVolume     *int     `yaml:"speaker_volume"`   // 0-100
	SpeakerMuted      bool     `yaml:"speaker_muted"`
	RenderQueueChunks int      `yaml:"render_queue_chunks"` // playback queue depth in 20ms chunks
}

// VideoConfig contains remote/local video sink settings
type VideoConfig struct {
	GPURendering *bool  `yaml:"gpu_rendering"` // hand I420 planes to the renderer (default: true)
	ColorRange   string `yaml:"color_range"`   // limited, full
	Preview      bool   `yaml:"preview"`       // mirror the local camera into the local sink
}

// EngineConfig selects and configures the RTC engine
type EngineConfig struct {
	Mode       string   `yaml:"mode"` // host, loopback
	HostBinary string   `yaml:"host_binary"`
	HostArgs   []string `yaml:"host_args"`
	AppID      string   `yaml:"app_id"`
	AppKey     string   `yaml:"app_key"`
	ServerURL  string   `yaml:"server_url"`
	RoomID     string   `yaml:"room_id"`
	UserID     string   `yaml:"user_id"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the control plane.
type MQTTConfig struct {
	Broker          string          `yaml:"broker"`
	ClientID        string          `yaml:"client_id"`
	Topics          MQTTTopics      `yaml:"topics"`
	QoS             map[string]byte `yaml:"qos"`
	EventEncoding   string          `yaml:"event_encoding"` // json, msgpack
	StatusIntervalS int             `yaml:"status_interval_s"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Status  string `yaml:"status"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration for instanceID with every default applied.
func Default(instanceID string) (*Config, error) {
	cfg := &Config{InstanceID: instanceID}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ShutdownTimeout returns shutdown_timeout_s as a duration
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// StatusInterval returns status_interval_s as a duration
func (c *MQTTConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalS) * time.Second
}

// Enabled reports whether a broker is configured
func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// GPU reports whether GPU rendering is enabled
func (c *VideoConfig) GPU() bool {
	return c.GPURendering == nil || *c.GPURendering
}
