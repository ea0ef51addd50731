package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-kiosk-bridge/modules/media"
)

// Message types exchanged with the host process.
const (
	// bridge → host
	MsgVideo = "video"
	MsgAudio = "audio"

	// host → bridge
	MsgRemoteVideo   = "remote_video"
	MsgPlaybackAudio = "playback_audio"
	MsgLog           = "log"
	MsgError         = "error"
)

// MaxMessageSize bounds a single framed message. A 1080p I420 frame is ~3 MB.
const MaxMessageSize = 16 << 20

// ErrMessageTooLarge is returned when a length prefix exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("engine: message exceeds size limit")

// Message is one msgpack record on the host pipe. Fields are used per Type.
type Message struct {
	Type string `msgpack:"type"`

	// video, remote_video
	Stream      string   `msgpack:"stream,omitempty"`
	Width       int      `msgpack:"width,omitempty"`
	Height      int      `msgpack:"height,omitempty"`
	Format      string   `msgpack:"format,omitempty"`
	Rotation    int      `msgpack:"rotation,omitempty"`
	Planes      [][]byte `msgpack:"planes,omitempty"`
	Strides     []int    `msgpack:"strides,omitempty"`
	Seq         uint64   `msgpack:"seq,omitempty"`
	TimestampUS int64    `msgpack:"ts_us,omitempty"`

	// audio, playback_audio
	SampleRate int    `msgpack:"sample_rate,omitempty"`
	Channels   int    `msgpack:"channels,omitempty"`
	Data       []byte `msgpack:"data,omitempty"`

	// log, error
	Level string `msgpack:"level,omitempty"`
	Text  string `msgpack:"text,omitempty"`
}

// EncodeMessage returns the framed form of m: a 4-byte big-endian length followed by
// the msgpack body.
func EncodeMessage(m *Message) ([]byte, error) {
	body, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal %s message: %w", m.Type, err)
	}
	if len(body) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// WriteMessage frames m onto w with a single Write.
func WriteMessage(w io.Writer, m *Message) error {
	buf, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// ReadMessage reads one framed message. It returns io.EOF only on a clean boundary.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("engine: read message body (%d bytes): %w", n, err)
	}

	var m Message
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("engine: unmarshal message: %w", err)
	}
	return &m, nil
}

// VideoMessage packs frame into a message of type typ. Planes are copied tightly.
func VideoMessage(typ, stream string, frame *media.VideoFrame) (*Message, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	packed := frame.Clone()
	m := &Message{
		Type:        typ,
		Stream:      stream,
		Width:       packed.Width,
		Height:      packed.Height,
		Format:      packed.Format.String(),
		Rotation:    int(packed.Rotation),
		Seq:         packed.Seq,
		TimestampUS: packed.TimestampUS,
	}
	for _, p := range packed.Planes {
		m.Planes = append(m.Planes, p.Data)
		m.Strides = append(m.Strides, p.Stride)
	}
	return m, nil
}

// Frame rebuilds the video frame carried by m and validates it.
func (m *Message) Frame() (*media.VideoFrame, error) {
	var format media.PixelFormat
	switch m.Format {
	case "I420", "":
		format = media.FormatI420
	case "RGBA":
		format = media.FormatRGBA
	default:
		return nil, &media.FrameValidationError{Reason: fmt.Sprintf("unknown pixel format %q", m.Format)}
	}
	if len(m.Strides) != len(m.Planes) {
		return nil, &media.FrameValidationError{Reason: "plane and stride counts differ"}
	}

	f := &media.VideoFrame{
		Width:       m.Width,
		Height:      m.Height,
		Format:      format,
		Rotation:    media.Rotation(m.Rotation),
		Seq:         m.Seq,
		TimestampUS: m.TimestampUS,
	}
	for i, data := range m.Planes {
		f.Planes = append(f.Planes, media.Plane{Data: data, Stride: m.Strides[i]})
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// AudioMessage packs chunk into a message of type typ.
func AudioMessage(typ string, chunk media.AudioChunk) (*Message, error) {
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return &Message{
		Type:        typ,
		SampleRate:  chunk.Format.SampleRate,
		Channels:    chunk.Format.Channels,
		Data:        chunk.Data,
		TimestampUS: chunk.TimestampUS,
	}, nil
}

// Chunk rebuilds the audio chunk carried by m and validates it.
func (m *Message) Chunk() (media.AudioChunk, error) {
	c := media.AudioChunk{
		Format:      media.AudioFormat{SampleRate: m.SampleRate, Channels: m.Channels},
		Data:        m.Data,
		TimestampUS: m.TimestampUS,
	}
	return c, c.Validate()
}
