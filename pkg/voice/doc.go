// Package voice implements real-time spoken conversation sessions for
// language practice.
//
// The remote conversational speech service is treated as a black box: it
// hears the microphone stream, decides turn boundaries, and answers with
// audio and transcript deltas. This package owns everything around that
// contract.
//
// # Architecture
//
// The package provides several core components:
//
//   - Session: the orchestrator; owns the state machine and the single
//     event-handling goroutine
//   - CapturePipeline: continuous mic read, level metering, gated forwarding
//   - Scheduler: decodes agent audio deltas and schedules them gaplessly on
//     a monotonic output clock
//   - TurnBuffer / TurnRecorder: per-turn clip collection for the agent and
//     the user side respectively
//   - Transcript: the delta-merge transcript with late audio-URL backfill
//   - Mixer: folds both streams into the full-session recording
//
// # Data Flow
//
//	Mic → CapturePipeline → remote stream          (gated, 16kHz PCM16)
//	                │
//	                ├→ TurnRecorder → Ogg/Opus user clip
//	                └→ Mixer ─────────→ full-session recording
//
//	Remote stream → Scheduler → speaker            (24kHz PCM16)
//	                   │
//	                   ├→ TurnBuffer → WAV agent clip
//	                   └→ Mixer
//
// # State Machine
//
// A session progresses through these states:
//
//	CONNECTING → AWAITING_GREETING → LISTENING ⇄ AGENT_SPEAKING → ENDED
//	                                     ⇅
//	                                  PAUSED
//
// The agent always speaks first; the mic-gate stays closed until its
// opening turn drains (or a safety timeout fires). Persistence lives in
// the persist subpackage and is strictly best-effort: a session must never
// stall on a database or object store.
package voice
