package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// LoopbackChunk is the playback granularity of the loopback engine.
const LoopbackChunk = 20 * time.Millisecond

// LoopbackStats is a snapshot of loopback counters.
type LoopbackStats struct {
	VideoPushed    uint64
	VideoDelivered uint64
	AudioPushed    uint64
	AudioDelivered uint64
	SinkErrors     uint64
}

// Loopback is an Engine that sends local media straight back.
//
// Every pushed video frame is delivered to the sinks registered for StreamLocal and
// StreamRemote, in that order. Pushed capture audio is upmixed to media.PlaybackFormat
// and handed to the audio callback in LoopbackChunk pieces. Delivery happens on the
// pushing goroutine.
type Loopback struct {
	mu       sync.Mutex
	sinks    map[string]VideoSink
	callback AudioCallback
	pending  []byte
	closed   bool

	videoPushed    atomic.Uint64
	videoDelivered atomic.Uint64
	audioPushed    atomic.Uint64
	audioDelivered atomic.Uint64
	sinkErrors     atomic.Uint64
}

// NewLoopback returns an empty loopback engine.
func NewLoopback() *Loopback {
	return &Loopback{sinks: make(map[string]VideoSink)}
}

// RegisterVideoSink implements Engine. A nil sink unregisters streamID.
func (l *Loopback) RegisterVideoSink(streamID string, sink VideoSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sink == nil {
		delete(l.sinks, streamID)
		return
	}
	l.sinks[streamID] = sink
}

// RegisterAudioCallback implements Engine.
func (l *Loopback) RegisterAudioCallback(cb AudioCallback) {
	l.mu.Lock()
	l.callback = cb
	l.mu.Unlock()
}

// PushVideoFrame implements Engine.
func (l *Loopback) PushVideoFrame(frame *media.VideoFrame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	targets := make([]VideoSink, 0, 2)
	for _, id := range []string{StreamLocal, StreamRemote} {
		if s, ok := l.sinks[id]; ok {
			targets = append(targets, s)
		}
	}
	l.mu.Unlock()

	l.videoPushed.Add(1)
	for _, s := range targets {
		if err := s.OnFrame(frame); err != nil {
			l.sinkErrors.Add(1)
			slog.Debug("engine: loopback sink rejected frame", "seq", frame.Seq, "error", err)
			continue
		}
		l.videoDelivered.Add(1)
	}
	return nil
}

// PushAudioFrame implements Engine.
func (l *Loopback) PushAudioFrame(chunk media.AudioChunk) error {
	up, err := Upmix(chunk.Data, chunk.Format, media.PlaybackFormat)
	if err != nil {
		return err
	}

	chunkBytes := media.PlaybackFormat.BytesFor(LoopbackChunk)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.audioPushed.Add(1)
	l.pending = append(l.pending, up...)
	var ready [][]byte
	for len(l.pending) >= chunkBytes {
		out := make([]byte, chunkBytes)
		copy(out, l.pending[:chunkBytes])
		ready = append(ready, out)
		l.pending = l.pending[chunkBytes:]
	}
	cb := l.callback
	l.mu.Unlock()

	if cb == nil {
		return nil
	}
	for _, data := range ready {
		if err := cb.OnAudioFrame(data, media.PlaybackFormat); err != nil {
			slog.Debug("engine: loopback audio callback failed", "error", err)
			continue
		}
		l.audioDelivered.Add(1)
	}
	return nil
}

// Close implements Engine. Registered sinks and callback are dropped.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.sinks = make(map[string]VideoSink)
	l.callback = nil
	l.pending = nil
	return nil
}

// Stats returns a snapshot of the loopback counters.
func (l *Loopback) Stats() LoopbackStats {
	return LoopbackStats{
		VideoPushed:    l.videoPushed.Load(),
		VideoDelivered: l.videoDelivered.Load(),
		AudioPushed:    l.audioPushed.Load(),
		AudioDelivered: l.audioDelivered.Load(),
		SinkErrors:     l.sinkErrors.Load(),
	}
}
