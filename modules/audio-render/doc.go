// Package audiorender plays remote call audio delivered by the RTC engine.
//
// The engine invokes OnAudioFrame on its own thread. The payload is copied into a
// bounded drop-oldest ring (50 chunks by default, about one second of 20ms chunks) and
// the call returns immediately. A render goroutine pops one chunk every 20ms, applies
// volume and writes it to a PlaybackDevice:
//
//	engine thread ──OnAudioFrame──► ring (drop-oldest) ──20ms loop──► aplay / oto
//
// Two devices are provided: an aplay subprocess (NewALSADevice) and an in-process
// player on ebitengine/oto (NewOtoDevice).
package audiorender
