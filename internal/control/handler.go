// Package control implements the MQTT control plane: JSON commands on the control topic,
// JSON responses on the status topic.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-kiosk-bridge/internal/bridge"
	"github.com/e7canasta/orion-kiosk-bridge/internal/config"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

const (
	commandQueue   = 10
	publishTimeout = 2 * time.Second
	stopTimeout    = 3 * time.Second
)

// Command represents a control plane command
type Command struct {
	Command   string         `json:"command"`
	RequestID string         `json:"request_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string `json:"command_ack"`
	RequestID  string `json:"request_id,omitempty"`
	Status     string `json:"status"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Target is the media surface the control plane drives. *bridge.Bridge implements it.
type Target interface {
	Status() bridge.Status
	Cameras() []media.CameraDescriptor
	RefreshCameras(ctx context.Context) ([]media.CameraDescriptor, error)
	SetCamera(ctx context.Context, id string) error
	StartVideo() error
	StopVideo() error
	StartAudio() error
	StopAudio() error
	StartRender() error
	StopRender() error
	SetMicVolume(v int)
	SetSpeakerVolume(v int) error
	SetSpeakerMute(mute bool) error
	Snapshot(w io.Writer, stream string) error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   mqtt.Client
	target   Target
	shutdown func()

	commands chan Command
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	handled  map[string]uint64
	failures uint64
}

// NewHandler creates a control plane handler. shutdown is invoked (once, asynchronously)
// after the shutdown command has been acknowledged.
func NewHandler(cfg *config.Config, client mqtt.Client, target Target, shutdown func()) (*Handler, error) {
	if client == nil {
		return nil, fmt.Errorf("control: mqtt client is required")
	}
	if target == nil {
		return nil, fmt.Errorf("control: target is required")
	}
	return &Handler{
		cfg:      cfg,
		client:   client,
		target:   target,
		shutdown: shutdown,
		commands: make(chan Command, commandQueue),
		handled:  make(map[string]uint64),
	}, nil
}

// Start subscribes to the control topic and processes commands until ctx ends or Stop.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("control: subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.processCommands(ctx, h.done)

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command in progress, if any.
func (h *Handler) Stop() error {
	if h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(publishTimeout)
	}
	if h.cancel == nil {
		return nil
	}
	h.cancel()

	select {
	case <-h.done:
	case <-time.After(stopTimeout):
		return &media.JoinTimeoutError{Worker: "control", Timeout: stopTimeout}
	}
	slog.Info("control: handler stopped")
	return nil
}

// messageHandler runs on the paho router goroutine and must not block.
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("control: command received", "command", cmd.Command, "request_id", cmd.RequestID)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
		h.sendResponse(Response{CommandAck: cmd.Command, RequestID: cmd.RequestID, Status: "error", Error: "busy"})
	}
}

func (h *Handler) processCommands(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			resp := h.Handle(ctx, cmd)
			h.sendResponse(resp)
			if cmd.Command == "shutdown" && resp.Status == "success" && h.shutdown != nil {
				go h.shutdown()
			}
		}
	}
}

// Handle executes one command against the target and returns its response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, RequestID: cmd.RequestID}

	data, err := h.dispatch(ctx, cmd)

	h.mu.Lock()
	h.handled[cmd.Command]++
	if err != nil {
		h.failures++
	}
	h.mu.Unlock()

	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		slog.Warn("control: command failed", "command", cmd.Command, "error", err)
		return resp
	}
	resp.Status = "success"
	resp.Data = data
	return resp
}

func (h *Handler) dispatch(ctx context.Context, cmd Command) (any, error) {
	t := h.target

	switch cmd.Command {
	case "get_status":
		return t.Status(), nil

	case "list_cameras":
		cams := t.Cameras()
		if refresh, _ := cmd.Params["refresh"].(bool); refresh {
			var err error
			if cams, err = t.RefreshCameras(ctx); err != nil {
				return nil, err
			}
		}
		return map[string]any{
			"cameras": cameraList(cams),
			"current": t.Status().Camera.ID,
		}, nil

	case "set_camera":
		id, ok := cmd.Params["camera_id"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("missing or invalid 'camera_id' parameter (expected string: CSI or USB:<n>)")
		}
		if err := t.SetCamera(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{
			"camera_id": id,
			"capturing": t.Status().Camera.Capturing,
		}, nil

	case "start_video":
		return stateChange("video_capturing", true, t.StartVideo())
	case "stop_video":
		return stateChange("video_capturing", false, t.StopVideo())
	case "start_audio":
		return stateChange("audio_capturing", true, t.StartAudio())
	case "stop_audio":
		return stateChange("audio_capturing", false, t.StopAudio())
	case "start_render":
		return stateChange("rendering", true, t.StartRender())
	case "stop_render":
		return stateChange("rendering", false, t.StopRender())

	case "set_mic_volume":
		v, err := volumeParam(cmd.Params)
		if err != nil {
			return nil, err
		}
		t.SetMicVolume(v)
		return map[string]any{"mic_volume": t.Status().Microphone.Volume}, nil

	case "set_speaker_volume":
		v, err := volumeParam(cmd.Params)
		if err != nil {
			return nil, err
		}
		if err := t.SetSpeakerVolume(v); err != nil {
			return nil, err
		}
		return map[string]any{"speaker_volume": t.Status().Speaker.Volume}, nil

	case "set_speaker_mute":
		mute, ok := cmd.Params["mute"].(bool)
		if !ok {
			return nil, fmt.Errorf("missing or invalid 'mute' parameter (expected bool)")
		}
		if err := t.SetSpeakerMute(mute); err != nil {
			return nil, err
		}
		return map[string]any{"speaker_muted": mute}, nil

	case "snapshot":
		stream, _ := cmd.Params["stream"].(string)
		var buf bytes.Buffer
		if err := t.Snapshot(&buf, stream); err != nil {
			return nil, err
		}
		// []byte is base64 in JSON
		return map[string]any{"stream": stream, "png": buf.Bytes()}, nil

	case "shutdown":
		if h.shutdown == nil {
			return nil, fmt.Errorf("shutdown not available")
		}
		slog.Warn("control: shutdown command received via MQTT control plane")
		return map[string]any{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

// sendResponse publishes a response on the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Status
	qos := h.cfg.MQTT.QoS["status"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		slog.Error("control: response publish timeout", "command_ack", resp.CommandAck)
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// Stats contains handler statistics
type Stats struct {
	Handled  map[string]uint64
	Failures uint64
}

// Stats returns handler statistics
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	handled := make(map[string]uint64, len(h.handled))
	for k, v := range h.handled {
		handled[k] = v
	}
	return Stats{Handled: handled, Failures: h.failures}
}

func stateChange(key string, value bool, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{key: value}, nil
}

// volumeParam reads params["volume"]. JSON numbers decode as float64.
func volumeParam(params map[string]any) (int, error) {
	v, ok := params["volume"].(float64)
	if !ok {
		return 0, fmt.Errorf("missing or invalid 'volume' parameter (expected number 0-100)")
	}
	return int(v), nil
}

func cameraList(cams []media.CameraDescriptor) []map[string]any {
	out := make([]map[string]any, 0, len(cams))
	for _, c := range cams {
		out = append(out, map[string]any{
			"id":   c.ID,
			"name": c.Name,
			"kind": c.Kind.String(),
		})
	}
	return out
}
