package voice

import (
	"sync"
	"time"
)

// TurnBuffer collects the decoded audio of one in-progress turn. Chunks are
// appended in arrival order into an AudioBuffer and only cleared once a
// complete single-header clip has been produced from them, or discarded
// wholesale when a newer turn for the same speaker begins before
// finalization.
type TurnBuffer struct {
	mu     sync.Mutex
	turn   int
	chunks int
	buf    *AudioBuffer
}

// NewTurnBuffer creates an empty buffer for audio in the given format.
func NewTurnBuffer(config AudioConfig) *TurnBuffer {
	return &TurnBuffer{turn: -1, buf: NewAudioBuffer(config, 0)}
}

// Begin starts collecting for the given turn index. If a previous turn's
// chunks are still pending (finalization never ran or is late), they are
// discarded so they cannot bleed into the new turn.
func (b *TurnBuffer) Begin(turn int) (discarded int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.turn == turn {
		return 0
	}
	discarded = b.chunks
	b.buf.Clear()
	b.chunks = 0
	b.turn = turn
	return discarded
}

// Append adds a decoded chunk to the turn's sequence. Chunks tagged with a
// turn index other than the active one are dropped: late deltas from an
// interrupted turn must not be attributed to the turn that follows it.
func (b *TurnBuffer) Append(turn int, chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn != b.turn {
		return false
	}
	b.buf.Write(chunk)
	b.chunks++
	return true
}

// Turn returns the active turn index, or -1 before the first Begin.
func (b *TurnBuffer) Turn() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.turn
}

// Len returns the number of pending chunks.
func (b *TurnBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

// Duration returns the playback duration of all pending chunks.
func (b *TurnBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Duration()
}

// Take removes and returns the pending audio for the given turn as one
// contiguous PCM payload. It returns nil if the buffer has moved on to a
// different turn or holds nothing — the caller must treat that as "nothing
// to finalize", not an error.
func (b *TurnBuffer) Take(turn int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn != b.turn || b.chunks == 0 {
		return nil
	}
	out := b.buf.Read()
	b.buf.Clear()
	b.chunks = 0
	return out
}
