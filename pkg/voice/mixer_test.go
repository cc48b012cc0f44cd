package voice

import (
	"bytes"
	"testing"
	"time"
)

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		from, to int
		wantLen  int
	}{
		{"same rate copies", []int16{1, 2, 3}, 16000, 16000, 3},
		{"upsample 16k to 24k", make([]int16, 320), 16000, 24000, 480},
		{"downsample 48k to 16k", make([]int16, 480), 48000, 16000, 160},
		{"empty", nil, 16000, 24000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resample(tt.in, tt.from, tt.to)
			if len(out) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(out), tt.wantLen)
			}
		})
	}
}

func TestResample_InterpolatesBetweenSamples(t *testing.T) {
	// Doubling the rate puts every other output sample midway between
	// two inputs.
	out := Resample([]int16{0, 100}, 8000, 16000)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if out[0] != 0 {
		t.Errorf("out[0] = %d, want 0", out[0])
	}
	if out[1] != 50 {
		t.Errorf("out[1] = %d, want 50", out[1])
	}
}

func TestAddSaturated(t *testing.T) {
	tests := []struct {
		a, b, want int16
	}{
		{100, 200, 300},
		{-100, 50, -50},
		{30000, 10000, 32767},
		{-30000, -10000, -32768},
	}
	for _, tt := range tests {
		if got := addSaturated(tt.a, tt.b); got != tt.want {
			t.Errorf("addSaturated(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMixer_ProducesOggOutput(t *testing.T) {
	var out bytes.Buffer
	m, err := NewMixer(&out, CaptureAudioConfig(), PlaybackAudioConfig())
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	// One second of mic audio and half a second of agent audio.
	micFrame := make([]byte, CaptureAudioConfig().BytesForDuration(20*time.Millisecond))
	for i := 0; i < 50; i++ {
		if err := m.WriteMic(micFrame); err != nil {
			t.Fatalf("WriteMic: %v", err)
		}
	}
	m.WriteAgent(make([]byte, PlaybackAudioConfig().BytesForDuration(500*time.Millisecond)))

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("no container output written")
	}
	// Ogg page capture pattern.
	if !bytes.HasPrefix(out.Bytes(), []byte("OggS")) {
		t.Errorf("output does not start with an Ogg page header")
	}

	// Writes after Close are ignored, not errors.
	if err := m.WriteMic(micFrame); err != nil {
		t.Errorf("WriteMic after Close: %v", err)
	}
}

func TestMixer_AgentTailDrainedOnClose(t *testing.T) {
	var out bytes.Buffer
	m, err := NewMixer(&out, CaptureAudioConfig(), PlaybackAudioConfig())
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	// Agent audio with no mic frame after it still ends up in the mix.
	m.WriteAgent(make([]byte, PlaybackAudioConfig().BytesForDuration(200*time.Millisecond)))
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("agent tail was dropped")
	}
}
