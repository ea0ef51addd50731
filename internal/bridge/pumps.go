package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

var errVideoBackpressure = errors.New("bridge: no outbound video subscriber accepted the frame")

// pushVideo is the camera's pusher. The capture graph reuses its buffer on the next
// pull, so the frame is cloned before it leaves the capture goroutine.
func (b *Bridge) pushVideo(frame *media.VideoFrame) error {
	out := outFrame{frame: frame.Clone(), epoch: b.epoch.Load()}
	if b.videoBus.Publish(out) == 0 {
		return errVideoBackpressure
	}
	return nil
}

// pushAudio is the microphone's pusher. Each chunk owns its payload.
func (b *Bridge) pushAudio(chunk media.AudioChunk) error {
	if b.audioRing.Push(chunk) {
		slog.Debug("bridge: outbound audio queue full, oldest chunk dropped")
	}
	return nil
}

// videoPump delivers frames from ch until ctx ends, skipping frames from an earlier
// camera epoch.
func (b *Bridge) videoPump(ctx context.Context, ch <-chan outFrame, deliver func(*media.VideoFrame) error, errs *atomic.Uint64) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case of := <-ch:
			if of.epoch != b.epoch.Load() {
				b.staleFrames.Add(1)
				continue
			}
			if err := deliver(of.frame); err != nil {
				errs.Add(1)
				slog.Debug("bridge: outbound frame rejected", "seq", of.frame.Seq, "trace_id", of.frame.TraceID, "error", err)
			}
		}
	}
}

// audioPump forwards captured audio to the engine in capture order.
func (b *Bridge) audioPump(ctx context.Context) error {
	for {
		chunk, err := b.audioRing.Pop(ctx)
		if err != nil {
			return nil
		}
		if err := b.eng.PushAudioFrame(chunk); err != nil {
			b.engineAudioErrors.Add(1)
			slog.Debug("bridge: engine rejected audio chunk", "error", err)
		}
	}
}
