package voice

import (
	"fmt"
	"io"
	"sync"
)

// Mixer combines the raw microphone stream and the decoded agent audio into
// one continuous mono recording for the full-session artifact. Per-turn
// clips cannot reconstruct this: they have gaps between turns and overlap
// during barge-in.
//
// The microphone runs in real time for the whole session, so mic frames
// drive the mix clock: each mic frame is upsampled to the playback rate and
// summed with whatever agent audio has queued up since the previous frame.
// Agent audio beyond the mic frame's span stays queued for the next frame.
type Mixer struct {
	mu     sync.Mutex
	out    *OggClipWriter
	mic    AudioConfig
	mixed  AudioConfig
	agent  []int16
	closed bool
}

// NewMixer creates a mixer writing an Ogg/Opus recording to w. micConfig is
// the capture format (16kHz), mixedConfig the agent/playback format (24kHz)
// the recording is produced at.
func NewMixer(w io.Writer, micConfig, mixedConfig AudioConfig) (*Mixer, error) {
	out, err := NewOggClipWriter(w, mixedConfig)
	if err != nil {
		return nil, fmt.Errorf("mixer output: %w", err)
	}
	return &Mixer{out: out, mic: micConfig, mixed: mixedConfig}, nil
}

// WriteMic feeds one microphone frame and emits the next slice of the mix.
func (m *Mixer) WriteMic(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	mic := Resample(PCM16ToSamples(pcm), m.mic.SampleRate, m.mixed.SampleRate)
	n := len(mic)
	if n > len(m.agent) {
		n = len(m.agent)
	}
	for i := 0; i < n; i++ {
		mic[i] = addSaturated(mic[i], m.agent[i])
	}
	m.agent = m.agent[n:]
	return m.out.WritePCM(SamplesToPCM16(mic))
}

// WriteAgent queues decoded agent audio for mixing.
func (m *Mixer) WriteAgent(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.agent = append(m.agent, PCM16ToSamples(pcm)...)
}

// Close drains queued agent audio (the tail past the final mic frame) and
// finishes the container. Must run after the mic stream has stopped.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if len(m.agent) > 0 {
		if err := m.out.WritePCM(SamplesToPCM16(m.agent)); err != nil {
			return err
		}
		m.agent = nil
	}
	return m.out.Close()
}

// Resample converts mono PCM16 samples between sample rates by linear
// interpolation. Adequate for a voice recording; not a polyphase filter.
func Resample(in []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	outLen := len(in) * toRate / fromRate
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return out
}

func addSaturated(a, b int16) int16 {
	sum := int32(a) + int32(b)
	if sum > 32767 {
		return 32767
	}
	if sum < -32768 {
		return -32768
	}
	return int16(sum)
}
