package voice

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeOggClip(t *testing.T) {
	cfg := CaptureAudioConfig()
	pcm := make([]byte, cfg.BytesForDuration(100*time.Millisecond))

	clip, err := EncodeOggClip(pcm, cfg)
	if err != nil {
		t.Fatalf("EncodeOggClip: %v", err)
	}
	if !bytes.HasPrefix(clip, []byte("OggS")) {
		t.Error("clip does not start with an Ogg page header")
	}
}

func TestEncodeOggClip_Empty(t *testing.T) {
	clip, err := EncodeOggClip(nil, CaptureAudioConfig())
	if err != nil {
		t.Fatalf("EncodeOggClip: %v", err)
	}
	// Headers only, no audio pages, still a valid container.
	if len(clip) == 0 {
		t.Error("empty input produced no container at all")
	}
}

func TestOggClipWriter_PadsFinalPartialFrame(t *testing.T) {
	cfg := CaptureAudioConfig()
	var out bytes.Buffer
	w, err := NewOggClipWriter(&out, cfg)
	if err != nil {
		t.Fatalf("NewOggClipWriter: %v", err)
	}

	// A chunk that is not a multiple of the 20ms opus frame.
	if err := w.WritePCM(make([]byte, cfg.BytesForDuration(30*time.Millisecond))); err != nil {
		t.Fatalf("WritePCM: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if out.Len() == 0 {
		t.Fatal("no output")
	}
	// Close again is a no-op.
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
