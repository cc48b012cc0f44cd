package voice

import "time"

// SessionState represents the current state of a conversation session.
type SessionState int

const (
	// StateIdle is the initial state before the session is started.
	StateIdle SessionState = iota
	// StateConnecting is while the remote stream is being established.
	StateConnecting
	// StateAwaitingGreeting is after connect, before the agent's opening
	// turn has finished playing. The mic-gate stays closed here.
	StateAwaitingGreeting
	// StateListening is when the mic-gate is open and user audio is forwarded.
	StateListening
	// StateAgentSpeaking is while agent audio is scheduled or playing.
	StateAgentSpeaking
	// StatePaused is a cooperative pause: mic-gate closed, playback stopped,
	// connection and timers kept alive.
	StatePaused
	// StateEnded is the terminal state after teardown.
	StateEnded
	// StateError is reachable from any non-terminal state.
	StateError
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingGreeting:
		return "AWAITING_GREETING"
	case StateListening:
		return "LISTENING"
	case StateAgentSpeaking:
		return "AGENT_SPEAKING"
	case StatePaused:
		return "PAUSED"
	case StateEnded:
		return "ENDED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Speaker identifies which side of the conversation produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// SessionConfig holds all configuration for a conversation session.
type SessionConfig struct {
	// Topic is the scenario the agent should role-play.
	Topic string `json:"topic"`

	// LearnerID identifies the learner the session belongs to.
	LearnerID string `json:"learner_id,omitempty"`

	// Language is the BCP 47 tag of the practice language.
	Language string `json:"language,omitempty"`

	// Greeting is the synthetic instruction sent right after connect so the
	// agent always speaks first. If empty, a default built from Topic is used.
	Greeting string `json:"greeting,omitempty"`

	// GreetingTimeout bounds how long the mic-gate may stay closed waiting
	// for the agent's opening turn to finish. If the turn-complete signal or
	// the playback drain is lost, this opens the mic anyway. Default: 12s.
	GreetingTimeout time.Duration `json:"greeting_timeout,omitempty"`

	// FinalizeGrace is how long after turn-complete and playback drain to
	// wait for trailing audio deltas before encoding the turn clip.
	// Default: 700ms.
	FinalizeGrace time.Duration `json:"finalize_grace,omitempty"`

	// RecorderFlushAttempts is how many explicit flush requests the user
	// turn recorder makes before stopping. Default: 3.
	RecorderFlushAttempts int `json:"recorder_flush_attempts,omitempty"`

	// RecorderFlushTimeout caps the total flush-and-stop wait. Default: 4s.
	RecorderFlushTimeout time.Duration `json:"recorder_flush_timeout,omitempty"`

	// CaptureAudio is the format of outbound microphone frames.
	CaptureAudio AudioConfig `json:"capture_audio"`

	// PlaybackAudio is the format of inbound agent audio deltas.
	PlaybackAudio AudioConfig `json:"playback_audio"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Language:              "en",
		GreetingTimeout:       12 * time.Second,
		FinalizeGrace:         700 * time.Millisecond,
		RecorderFlushAttempts: 3,
		RecorderFlushTimeout:  4 * time.Second,
		CaptureAudio:          CaptureAudioConfig(),
		PlaybackAudio:         PlaybackAudioConfig(),
	}
}

func (c *SessionConfig) applyDefaults() {
	def := DefaultSessionConfig()
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.GreetingTimeout <= 0 {
		c.GreetingTimeout = def.GreetingTimeout
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = def.FinalizeGrace
	}
	if c.RecorderFlushAttempts <= 0 {
		c.RecorderFlushAttempts = def.RecorderFlushAttempts
	}
	if c.RecorderFlushTimeout <= 0 {
		c.RecorderFlushTimeout = def.RecorderFlushTimeout
	}
	if c.CaptureAudio.SampleRate == 0 {
		c.CaptureAudio = def.CaptureAudio
	}
	if c.PlaybackAudio.SampleRate == 0 {
		c.PlaybackAudio = def.PlaybackAudio
	}
}

// AudioConfig specifies PCM format parameters.
type AudioConfig struct {
	// SampleRate in Hz.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// CaptureAudioConfig is the outbound microphone wire format: PCM16 mono 16kHz.
func CaptureAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// PlaybackAudioConfig is the inbound agent audio format: PCM16 mono 24kHz.
func PlaybackAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the playback duration of the given byte count.
func (c AudioConfig) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	return int(c.Duration(bytes) / time.Millisecond)
}

// BytesForDuration returns the byte count for the given duration.
func (c AudioConfig) BytesForDuration(d time.Duration) int {
	return int(int64(c.BytesPerSecond()) * int64(d) / int64(time.Second))
}
