package engine

import (
	"fmt"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Upmix converts S16LE PCM in format in to out by sample repetition.
//
// out.SampleRate must be a whole multiple of in.SampleRate. Mono input is copied to
// every output channel; input with as many channels as out is passed through per channel.
func Upmix(data []byte, in, out media.AudioFormat) ([]byte, error) {
	if in.SampleRate <= 0 || out.SampleRate%in.SampleRate != 0 {
		return nil, &media.FrameValidationError{Reason: fmt.Sprintf("cannot upmix %s to %s", in, out)}
	}
	if in.Channels != 1 && in.Channels != out.Channels {
		return nil, &media.FrameValidationError{Reason: fmt.Sprintf("cannot map %d channels to %d", in.Channels, out.Channels)}
	}
	if err := (media.AudioChunk{Format: in, Data: data}).Validate(); err != nil {
		return nil, err
	}

	factor := out.SampleRate / in.SampleRate
	frames := len(data) / in.FrameSize()
	dst := make([]byte, 0, frames*factor*out.FrameSize())

	for f := 0; f < frames; f++ {
		src := data[f*in.FrameSize() : (f+1)*in.FrameSize()]
		for r := 0; r < factor; r++ {
			for c := 0; c < out.Channels; c++ {
				ch := c
				if in.Channels == 1 {
					ch = 0
				}
				dst = append(dst, src[ch*media.BytesPerSample], src[ch*media.BytesPerSample+1])
			}
		}
	}
	return dst, nil
}
