package voice

import (
	"testing"
	"time"
)

func TestAudioConfig_Math(t *testing.T) {
	capture := CaptureAudioConfig()
	if got := capture.BytesPerSecond(); got != 32000 {
		t.Errorf("capture BytesPerSecond = %d, want 32000", got)
	}
	playback := PlaybackAudioConfig()
	if got := playback.BytesPerSecond(); got != 48000 {
		t.Errorf("playback BytesPerSecond = %d, want 48000", got)
	}

	if got := playback.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := playback.DurationMs(24000); got != 500 {
		t.Errorf("DurationMs(24000) = %d, want 500", got)
	}
	if got := playback.BytesForDuration(100 * time.Millisecond); got != 4800 {
		t.Errorf("BytesForDuration(100ms) = %d, want 4800", got)
	}
}

func TestSessionConfig_Defaults(t *testing.T) {
	cfg := SessionConfig{Topic: "at the bakery"}
	cfg.applyDefaults()

	if cfg.GreetingTimeout != 12*time.Second {
		t.Errorf("GreetingTimeout = %v", cfg.GreetingTimeout)
	}
	if cfg.FinalizeGrace != 700*time.Millisecond {
		t.Errorf("FinalizeGrace = %v", cfg.FinalizeGrace)
	}
	if cfg.RecorderFlushAttempts != 3 {
		t.Errorf("RecorderFlushAttempts = %d", cfg.RecorderFlushAttempts)
	}
	if cfg.CaptureAudio.SampleRate != 16000 {
		t.Errorf("CaptureAudio.SampleRate = %d", cfg.CaptureAudio.SampleRate)
	}
	if cfg.PlaybackAudio.SampleRate != 24000 {
		t.Errorf("PlaybackAudio.SampleRate = %d", cfg.PlaybackAudio.SampleRate)
	}
	if cfg.Topic != "at the bakery" {
		t.Errorf("Topic overwritten: %q", cfg.Topic)
	}
}

func TestSessionConfig_ExplicitValuesKept(t *testing.T) {
	cfg := SessionConfig{GreetingTimeout: 3 * time.Second}
	cfg.applyDefaults()
	if cfg.GreetingTimeout != 3*time.Second {
		t.Errorf("GreetingTimeout = %v, want explicit 3s", cfg.GreetingTimeout)
	}
}

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateAwaitingGreeting, "AWAITING_GREETING"},
		{StateListening, "LISTENING"},
		{StateAgentSpeaking, "AGENT_SPEAKING"},
		{StatePaused, "PAUSED"},
		{StateEnded, "ENDED"},
		{SessionState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
