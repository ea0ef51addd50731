// Package framebus provides non-blocking fan-out of values to multiple subscribers.
//
// # Overview
//
// A publisher hands each value to every subscriber channel that has room. The key
// design principle is:
//
//	"Drop, never queue. Latency > Completeness."
//
// The bridge uses two buses: one for captured video frames (engine pump and local
// preview subscribe) and one for bridge events (UI channel and MQTT emitter subscribe).
//
// # Basic Usage
//
//	bus := framebus.New[*media.VideoFrame]()
//	defer bus.Close()
//
//	engineCh := make(chan *media.VideoFrame, 2)
//	bus.Subscribe("engine", engineCh)
//
//	bus.Publish(frame) // returns immediately
//
// # Observability
//
// Stats provide global and per-subscriber metrics:
//
//	stats := bus.Stats()
//	rate := framebus.CalculateSubscriberDropRate(stats, "engine")
//
// A steadily rising drop rate on "engine" means the engine push is slower than the
// camera cadence.
package framebus
