// Package videosink makes engine video frames available to a display surface.
//
// A SinkAdapter is registered with the RTC engine per stream ("local", "remote"). The
// engine calls OnFrame synchronously on its own thread with a frame that is only valid
// for the duration of the call. Two modes are selected at construction:
//
//   - ModeCPU converts I420 (or RGBA) to RGB with rotation in OnFrame and keeps the
//     latest image for the paint callback (CurrentFrame).
//   - ModeGPU copies the three I420 planes into a two-slot hand-off ring. The render
//     goroutine takes them with NextFrame, uploads them as textures and converts in
//     FragmentShaderBT601. Only that goroutine touches the GL context.
//
// Conversion uses BT.601 integer math. Limited range (the default) maps Y=16 to black
// and Y=235 to white; full range uses Y unchanged.
package videosink
