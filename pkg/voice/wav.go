package voice

import (
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// EncodeWAV wraps raw PCM samples in a single RIFF/WAVE header. The clip for
// a turn must be built from concatenated decoded samples and encoded exactly
// once: concatenating already-encoded files yields multiple headers, which
// most players refuse.
func EncodeWAV(pcm []byte, config AudioConfig) []byte {
	byteRate := config.BytesPerSecond()
	blockAlign := config.Channels * config.BitsPerSample / 8

	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(out[22:24], uint16(config.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(config.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(config.BitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// ValidateWAVHeader checks that data begins with exactly one well-formed
// RIFF/WAVE header and returns the declared PCM payload length.
func ValidateWAVHeader(data []byte) (int, error) {
	if len(data) < wavHeaderSize {
		return 0, fmt.Errorf("wav: %d bytes is too short for a header", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, fmt.Errorf("wav: missing RIFF/WAVE magic")
	}
	if string(data[36:40]) != "data" {
		return 0, fmt.Errorf("wav: missing data chunk")
	}
	n := int(binary.LittleEndian.Uint32(data[40:44]))
	if n != len(data)-wavHeaderSize {
		return 0, fmt.Errorf("wav: data chunk declares %d bytes, have %d", n, len(data)-wavHeaderSize)
	}
	return n, nil
}

// PCM16ToSamples converts little-endian PCM16 bytes to int16 samples.
func PCM16ToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToPCM16 converts int16 samples to little-endian PCM16 bytes.
func SamplesToPCM16(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
