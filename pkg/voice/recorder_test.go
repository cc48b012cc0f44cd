package voice

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

type fakeFlusher struct {
	mu       sync.Mutex
	rec      *TurnRecorder
	pending  [][]byte
	requests int
}

func (f *fakeFlusher) RequestFlush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	// Hand over one buffered chunk per prompt, like a primitive that
	// releases its tail slowly.
	if len(f.pending) > 0 {
		f.rec.Write(f.pending[0])
		f.pending = f.pending[1:]
	}
}

func TestTurnRecorder_StartIsIdempotent(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Start()
	r.Write([]byte{1, 1})
	r.Start() // burst of first deltas must not reset the clip
	r.Write([]byte{2, 2})

	if r.Len() != 4 {
		t.Errorf("Len = %d, want 4", r.Len())
	}
}

func TestTurnRecorder_DeduplicatesRedeliveredChunks(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Start()

	chunk := []byte{1, 2, 3, 4}
	r.Write(chunk)
	r.Write(chunk) // same backing array redelivered on flush
	r.Write([]byte{5, 6})

	if r.Len() != 6 {
		t.Errorf("Len = %d, want 6 (duplicate not dropped?)", r.Len())
	}
}

func TestTurnRecorder_IgnoresWritesWhenNotRecording(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Write([]byte{1, 1})
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0 before Start", r.Len())
	}
}

func TestTurnRecorder_FinalizeCollectsFlushedTail(t *testing.T) {
	f := &fakeFlusher{pending: [][]byte{{3, 3}, {4, 4}}}
	r := NewTurnRecorder(CaptureAudioConfig(), f)
	f.rec = r

	r.Start()
	r.Write([]byte{1, 1})
	r.Write([]byte{2, 2})

	ctx := context.Background()
	pcm, err := r.Finalize(ctx, FinalizeOptions{FlushAttempts: 3, Timeout: 400 * time.Millisecond})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := []byte{1, 1, 2, 2, 3, 3, 4, 4}
	if !bytes.Equal(pcm, want) {
		t.Errorf("Finalize = %v, want %v", pcm, want)
	}
	if r.Recording() {
		t.Error("still recording after Finalize")
	}
}

func TestTurnRecorder_NewTurnDuringCollectIsNotConsumed(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Start()
	r.Write([]byte{1, 1})

	seg := r.Cut()
	// The next turn begins while the previous one is still being collected.
	r.Start()
	r.Write([]byte{2, 2})

	pcm, err := r.Collect(context.Background(), seg, FinalizeOptions{FlushAttempts: 1, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if !bytes.Equal(pcm, []byte{1, 1}) {
		t.Errorf("Collect = %v, want only the first turn's audio", pcm)
	}
	if !r.Recording() {
		t.Fatal("collecting the previous turn stopped the new turn's recording")
	}

	pcm, err = r.Finalize(context.Background(), FinalizeOptions{FlushAttempts: 1, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Equal(pcm, []byte{2, 2}) {
		t.Errorf("second turn clip = %v, want %v", pcm, []byte{2, 2})
	}
}

func TestTurnRecorder_TrailingWriteAfterCutJoinsSegment(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Start()
	r.Write([]byte{1, 1})

	seg := r.Cut()
	// Tail data released after the boundary, before any new turn.
	r.Write([]byte{2, 2})

	pcm, err := r.Collect(context.Background(), seg, FinalizeOptions{FlushAttempts: 1, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []byte{1, 1, 2, 2}
	if !bytes.Equal(pcm, want) {
		t.Errorf("Collect = %v, want %v", pcm, want)
	}
}

func TestTurnRecorder_FinalizeTimeoutReturnsPartial(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Start()
	r.Write([]byte{1, 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired: the bound, not an error

	pcm, err := r.Finalize(ctx, FinalizeOptions{FlushAttempts: 3, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !bytes.Equal(pcm, []byte{1, 1}) {
		t.Errorf("Finalize = %v, want partial data", pcm)
	}
}

func TestTurnRecorder_FinalizeEmptyReturnsNil(t *testing.T) {
	r := NewTurnRecorder(CaptureAudioConfig(), nil)
	r.Start()
	pcm, err := r.Finalize(context.Background(), FinalizeOptions{FlushAttempts: 1, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if pcm != nil {
		t.Errorf("Finalize = %v, want nil", pcm)
	}
}
