package voice

import "time"

// Event is the interface for all session events surfaced to the UI layer.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionStartedEvent is emitted once the remote stream is open and the
// greeting instruction has been sent.
type SessionStartedEvent struct {
	SessionID string    `json:"session_id"`
	Topic     string    `json:"topic"`
	StartedAt time.Time `json:"started_at"`
}

func (e *SessionStartedEvent) EventType() string { return "session.started" }

// SessionEndedEvent is emitted after teardown completes.
type SessionEndedEvent struct {
	SessionID       string        `json:"session_id"`
	Duration        time.Duration `json:"duration"`
	CharactersTotal int           `json:"characters_total"`
	FullAudioURL    string        `json:"full_audio_url,omitempty"`
}

func (e *SessionEndedEvent) EventType() string { return "session.ended" }

// StateChangedEvent is emitted when the session state machine transitions.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptUpdatedEvent is emitted whenever a transcript item is created
// or its in-progress text grows.
type TranscriptUpdatedEvent struct {
	Index   int     `json:"index"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Final   bool    `json:"final,omitempty"`
}

func (e *TranscriptUpdatedEvent) EventType() string { return "transcript.updated" }

// MicLevelEvent carries the per-frame mean-absolute amplitude and RMS
// energy of the mic input. Advisory only; turn boundaries come from the
// remote service.
type MicLevelEvent struct {
	Level  float64 `json:"level"`
	Energy float64 `json:"energy"`
}

func (e *MicLevelEvent) EventType() string { return "mic.level" }

// MicGateChangedEvent is emitted when the mic-gate opens or closes.
type MicGateChangedEvent struct {
	Open bool `json:"open"`
}

func (e *MicGateChangedEvent) EventType() string { return "mic.gate" }

// GreetingTimeoutEvent is emitted when the greeting-phase safety timeout
// fires before the agent's opening turn drained. Should not happen in
// normal operation.
type GreetingTimeoutEvent struct {
	Waited time.Duration `json:"waited"`
}

func (e *GreetingTimeoutEvent) EventType() string { return "greeting.timeout" }

// InterruptedEvent is emitted after an interruption signal has been applied:
// playback stopped, queue dropped, clock reset.
type InterruptedEvent struct {
	DroppedSources int `json:"dropped_sources"`
}

func (e *InterruptedEvent) EventType() string { return "playback.interrupted" }

// TurnFinalizedEvent is emitted once a turn's clip has been encoded.
type TurnFinalizedEvent struct {
	Index    int           `json:"index"`
	Speaker  Speaker       `json:"speaker"`
	Duration time.Duration `json:"duration"`
}

func (e *TurnFinalizedEvent) EventType() string { return "turn.finalized" }

// MessageSavedEvent is emitted when a turn's text has been durably persisted.
type MessageSavedEvent struct {
	Index     int     `json:"index"`
	MessageID string  `json:"message_id"`
	Speaker   Speaker `json:"speaker"`
}

func (e *MessageSavedEvent) EventType() string { return "message.saved" }

// AudioAttachedEvent is emitted when an uploaded clip URL has been
// backfilled onto an already-persisted message.
type AudioAttachedEvent struct {
	Index    int    `json:"index"`
	AudioURL string `json:"audio_url"`
}

func (e *AudioAttachedEvent) EventType() string { return "audio.attached" }

// ErrorEvent is emitted for session-level errors.
type ErrorEvent struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }
