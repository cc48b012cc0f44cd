package voice

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	opusFrameDuration = 20 // ms per encoded frame
	// Opus RTP clock is always 48kHz regardless of the input rate.
	opusRTPTicksPerFrame = 960
)

// OggClipWriter encodes a PCM16 stream into an Opus-in-Ogg container.
// It buffers input into fixed 20ms frames, so writes of arbitrary size are
// fine; Close pads and flushes the final partial frame.
type OggClipWriter struct {
	config    AudioConfig
	enc       *opus.Encoder
	ogg       *oggwriter.OggWriter
	frameSize int // samples per 20ms frame
	pending   []int16
	packetBuf []byte
	seq       uint16
	ts        uint32
	closed    bool
}

// NewOggClipWriter creates a writer targeting w. The input config's sample
// rate must be one Opus accepts (8, 12, 16, 24 or 48 kHz mono).
func NewOggClipWriter(w io.Writer, config AudioConfig) (*OggClipWriter, error) {
	enc, err := opus.NewEncoder(config.SampleRate, config.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	ogg, err := oggwriter.NewWith(w, 48000, uint16(config.Channels))
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	return &OggClipWriter{
		config:    config,
		enc:       enc,
		ogg:       ogg,
		frameSize: config.SampleRate * config.Channels * opusFrameDuration / 1000,
		packetBuf: make([]byte, 4000),
	}, nil
}

// WritePCM appends little-endian PCM16 audio to the clip.
func (w *OggClipWriter) WritePCM(pcm []byte) error {
	if w.closed {
		return fmt.Errorf("ogg clip writer is closed")
	}
	w.pending = append(w.pending, PCM16ToSamples(pcm)...)
	for len(w.pending) >= w.frameSize {
		if err := w.writeFrame(w.pending[:w.frameSize]); err != nil {
			return err
		}
		w.pending = w.pending[w.frameSize:]
	}
	return nil
}

// Close flushes the final partial frame (zero-padded) and closes the
// container.
func (w *OggClipWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if len(w.pending) > 0 {
		frame := make([]int16, w.frameSize)
		copy(frame, w.pending)
		w.pending = nil
		if err := w.writeFrame(frame); err != nil {
			return err
		}
	}
	return w.ogg.Close()
}

func (w *OggClipWriter) writeFrame(frame []int16) error {
	n, err := w.enc.Encode(frame, w.packetBuf)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	w.seq++
	w.ts += opusRTPTicksPerFrame
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: w.seq,
			Timestamp:      w.ts,
		},
		Payload: append([]byte(nil), w.packetBuf[:n]...),
	}
	if err := w.ogg.WriteRTP(packet); err != nil {
		return fmt.Errorf("ogg write: %w", err)
	}
	return nil
}

// EncodeOggClip encodes a complete PCM payload into a single Ogg/Opus
// container in one shot. Used for per-turn user clips.
func EncodeOggClip(pcm []byte, config AudioConfig) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewOggClipWriter(&buf, config)
	if err != nil {
		return nil, err
	}
	if err := w.WritePCM(pcm); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
