package bridge

import (
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/framebus"
	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Status is a point-in-time view of the bridge for the control plane.
type Status struct {
	InstanceID string  `json:"instance_id" msgpack:"instance_id"`
	Running    bool    `json:"running" msgpack:"running"`
	UptimeS    float64 `json:"uptime_s" msgpack:"uptime_s"`

	Camera     CameraStatus     `json:"camera" msgpack:"camera"`
	Microphone MicrophoneStatus `json:"microphone" msgpack:"microphone"`
	Speaker    SpeakerStatus    `json:"speaker" msgpack:"speaker"`
	Remote     SinkStatus       `json:"remote_video" msgpack:"remote_video"`
	Local      SinkStatus       `json:"local_video" msgpack:"local_video"`
	Outbound   OutboundStatus   `json:"outbound" msgpack:"outbound"`

	CaptureDevice    string `json:"capture_device" msgpack:"capture_device"`
	PlaybackDevice   string `json:"playback_device" msgpack:"playback_device"`
	JoinTimeouts     int    `json:"join_timeouts" msgpack:"join_timeouts"`
	SuppressedEvents uint64 `json:"suppressed_events" msgpack:"suppressed_events"`
}

// CameraStatus describes the video capture worker.
type CameraStatus struct {
	ID         string   `json:"id" msgpack:"id"`
	Name       string   `json:"name" msgpack:"name"`
	Capturing  bool     `json:"capturing" msgpack:"capturing"`
	State      string   `json:"state" msgpack:"state"`
	Frames     uint64   `json:"frames" msgpack:"frames"`
	RunFrames  uint64   `json:"run_frames" msgpack:"run_frames"`
	FPS        float64  `json:"fps" msgpack:"fps"`
	LatencyMS  int64    `json:"latency_ms" msgpack:"latency_ms"`
	Timeouts   uint64   `json:"timeouts" msgpack:"timeouts"`
	Available  []string `json:"available" msgpack:"available"`
	PushErrors uint64   `json:"push_errors" msgpack:"push_errors"`
}

// MicrophoneStatus describes the audio capture worker.
type MicrophoneStatus struct {
	Capturing     bool   `json:"capturing" msgpack:"capturing"`
	Device        string `json:"device" msgpack:"device"`
	Volume        int    `json:"volume" msgpack:"volume"`
	FramesPushed  uint64 `json:"frames_pushed" msgpack:"frames_pushed"`
	Resyncs       uint64 `json:"resyncs" msgpack:"resyncs"`
	OverflowBytes uint64 `json:"overflow_bytes" msgpack:"overflow_bytes"`
}

// SpeakerStatus describes the render worker.
type SpeakerStatus struct {
	Rendering bool   `json:"rendering" msgpack:"rendering"`
	Volume    int    `json:"volume" msgpack:"volume"`
	Muted     bool   `json:"muted" msgpack:"muted"`
	Played    uint64 `json:"played" msgpack:"played"`
	Evicted   uint64 `json:"evicted" msgpack:"evicted"`
	Queued    int    `json:"queued" msgpack:"queued"`
	LastPeak  int    `json:"last_peak" msgpack:"last_peak"`
}

// SinkStatus describes a display sink.
type SinkStatus struct {
	Mode     string `json:"mode" msgpack:"mode"`
	Accepted uint64 `json:"accepted" msgpack:"accepted"`
	Rejected uint64 `json:"rejected" msgpack:"rejected"`
}

// OutboundStatus describes the pumps between capture and engine.
type OutboundStatus struct {
	VideoPublished    uint64   `json:"video_published" msgpack:"video_published"`
	VideoDropRate     float64  `json:"video_drop_rate" msgpack:"video_drop_rate"`
	EngineVideoDrops  uint64   `json:"engine_video_drops" msgpack:"engine_video_drops"`
	SlowConsumers     []string `json:"slow_consumers" msgpack:"slow_consumers"`
	StaleFrames       uint64   `json:"stale_frames" msgpack:"stale_frames"`
	EngineVideoErrors uint64   `json:"engine_video_errors" msgpack:"engine_video_errors"`
	AudioQueued       int      `json:"audio_queued" msgpack:"audio_queued"`
	AudioEvicted      uint64   `json:"audio_evicted" msgpack:"audio_evicted"`
	EngineAudioErrors uint64   `json:"engine_audio_errors" msgpack:"engine_audio_errors"`
}

// slowConsumerDropRate is the video drop rate above which a consumer is named slow.
const slowConsumerDropRate = 0.1

// Status returns the current bridge status. Safe to call at any time.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Status{
		InstanceID:       b.cfg.InstanceID,
		Running:          b.started,
		JoinTimeouts:     int(b.joinTimeouts.Load()),
		SuppressedEvents: b.suppressed.Load(),
	}
	if b.started {
		s.UptimeS = time.Since(b.startedAt).Seconds()
		s.CaptureDevice = b.captureID()
		s.PlaybackDevice = b.playbackID()
	}

	cs := b.camera.Stats()
	s.Camera = CameraStatus{
		ID:         b.current.ID,
		Name:       b.current.Name,
		Capturing:  b.camera.IsCapturing(),
		State:      cs.State.String(),
		Frames:     cs.FrameCount,
		RunFrames:  cs.RunFrames,
		FPS:        cs.FPSReal,
		LatencyMS:  cs.LatencyMS,
		Timeouts:   cs.Timeouts,
		Available:  cameraIDs(b.cameras),
		PushErrors: cs.PushErrors,
	}

	if b.mic != nil {
		ms := b.mic.Stats()
		s.Microphone = MicrophoneStatus{
			Capturing:     ms.IsCapturing,
			Device:        ms.Device,
			Volume:        ms.Volume,
			FramesPushed:  ms.FramesPushed,
			Resyncs:       ms.Resyncs,
			OverflowBytes: ms.OverflowBytes,
		}
	} else {
		s.Microphone.Volume = int(b.micVolume.Load())
	}

	if b.render != nil {
		rs := b.render.Stats()
		s.Speaker = SpeakerStatus{
			Rendering: rs.IsRendering,
			Volume:    rs.Volume,
			Muted:     rs.Muted,
			Played:    rs.Played,
			Evicted:   rs.Evicted,
			Queued:    rs.Queued,
			LastPeak:  rs.LastPeak,
		}
	}

	rst, lst := b.remote.Stats(), b.local.Stats()
	s.Remote = SinkStatus{Mode: b.remote.Mode().String(), Accepted: rst.Accepted, Rejected: rst.Rejected}
	s.Local = SinkStatus{Mode: b.local.Mode().String(), Accepted: lst.Accepted, Rejected: lst.Rejected}

	bus := b.videoBus.Stats()
	ring := b.audioRing.Stats()
	s.Outbound = OutboundStatus{
		VideoPublished:    bus.TotalPublished,
		VideoDropRate:     framebus.CalculateDropRate(bus),
		EngineVideoDrops:  bus.Subscribers["engine"].Dropped,
		SlowConsumers:     framebus.SlowSubscribers(bus, slowConsumerDropRate),
		StaleFrames:       b.staleFrames.Load(),
		EngineVideoErrors: b.engineVideoErrors.Load(),
		AudioQueued:       ring.Len,
		AudioEvicted:      ring.Evicted,
		EngineAudioErrors: b.engineAudioErrors.Load(),
	}

	return s
}

func cameraIDs(cams []media.CameraDescriptor) []string {
	ids := make([]string, 0, len(cams))
	for _, c := range cams {
		ids = append(ids, c.ID)
	}
	return ids
}
