package media

import (
	"encoding/binary"
	"fmt"
	"time"
)

// BytesPerSample is the size of one S16LE sample. All bridge audio is 16-bit signed
// little-endian.
const BytesPerSample = 2

// AudioFormat describes interleaved S16LE PCM.
type AudioFormat struct {
	SampleRate int
	Channels   int
}

var (
	// CaptureFormat is what the microphone worker delivers to the engine.
	CaptureFormat = AudioFormat{SampleRate: 16000, Channels: 1}
	// PlaybackFormat is what the engine's playback callback delivers.
	PlaybackFormat = AudioFormat{SampleRate: 48000, Channels: 2}
)

// FrameSize returns the byte size of one sample frame (all channels).
func (f AudioFormat) FrameSize() int {
	return f.Channels * BytesPerSample
}

// BytesFor returns the byte length of d worth of audio, rounded down to whole frames.
func (f AudioFormat) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.FrameSize()
}

// DurationOf returns the play time of n bytes.
func (f AudioFormat) DurationOf(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / f.FrameSize()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String implements fmt.Stringer ("16000Hz/1ch").
func (f AudioFormat) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// AudioChunk is a block of interleaved S16LE PCM.
type AudioChunk struct {
	Format      AudioFormat
	Data        []byte
	TimestampUS int64
}

// Validate checks that the chunk holds a whole, non-zero number of sample frames.
func (c AudioChunk) Validate() error {
	if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
		return &FrameValidationError{Reason: fmt.Sprintf("invalid audio format %s", c.Format)}
	}
	if len(c.Data) == 0 {
		return &FrameValidationError{Reason: "empty audio chunk"}
	}
	if len(c.Data)%c.Format.FrameSize() != 0 {
		return &FrameValidationError{Reason: fmt.Sprintf("audio chunk of %d bytes is not a whole number of %d-byte frames",
			len(c.Data), c.Format.FrameSize())}
	}
	return nil
}

// ScaleSample returns clamp(s*volume/100, -32768, 32767).
func ScaleSample(s int16, volume int) int16 {
	v := int32(s) * int32(volume) / 100
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// ScaleS16 applies ScaleSample to every sample of an S16LE buffer in place.
// Volume 100 leaves the buffer untouched. A trailing odd byte is ignored.
func ScaleS16(buf []byte, volume int) {
	if volume == 100 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		binary.LittleEndian.PutUint16(buf[i:], uint16(ScaleSample(s, volume)))
	}
}

// PeakS16 returns the largest absolute sample value in an S16LE buffer.
func PeakS16(buf []byte) int {
	peak := 0
	for i := 0; i+1 < len(buf); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(buf[i:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// ClampVolume bounds a volume to 0..100.
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
