package voice

import (
	"context"
	"sync"
	"time"
)

// Flusher is implemented by recording primitives that buffer internally and
// release their tail asynchronously. RequestFlush asks for buffered data to
// be delivered; the primitive may need several prompts before it complies.
type Flusher interface {
	RequestFlush()
}

// recorderSegment holds one turn's chunks. Segments are never shared across
// turns: Cut closes the current one to new Starts while its flush window is
// still open, so a turn beginning during the previous turn's collection gets
// a fresh segment of its own.
type recorderSegment struct {
	chunks [][]byte
	seen   map[*byte]struct{}
	bytes  int
}

func newRecorderSegment() *recorderSegment {
	return &recorderSegment{seen: make(map[*byte]struct{})}
}

func (s *recorderSegment) write(chunk []byte) {
	key := &chunk[0]
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.chunks = append(s.chunks, chunk)
	s.bytes += len(chunk)
}

func (s *recorderSegment) take() []byte {
	if s.bytes == 0 {
		return nil
	}
	out := make([]byte, 0, s.bytes)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	s.chunks = nil
	s.seen = make(map[*byte]struct{})
	s.bytes = 0
	return out
}

// TurnRecorder records the user's raw microphone audio, one segment per
// turn. It is started when the first partial user transcript delta arrives;
// at turn-complete the caller Cuts the segment (synchronously, so the next
// turn cannot land in it) and Collects it with bounded patience for the
// tail the primitive releases asynchronously. Finalize wraps Cut+Collect
// for callers that have no concurrent turns to worry about.
type TurnRecorder struct {
	config  AudioConfig
	flusher Flusher

	mu      sync.Mutex
	cur     *recorderSegment // nil when not recording
	closing *recorderSegment // segment inside its flush window
}

// NewTurnRecorder creates a recorder for mic audio in the given format.
// flusher may be nil when the source delivers frames synchronously.
func NewTurnRecorder(config AudioConfig, flusher Flusher) *TurnRecorder {
	return &TurnRecorder{config: config, flusher: flusher}
}

// Start begins collecting a new segment. Within one turn it is idempotent:
// a burst of first deltas cannot reset the clip. After a Cut it begins the
// next turn's segment even while the previous one is still being collected.
func (r *TurnRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil && r.cur != r.closing {
		return
	}
	r.cur = newRecorderSegment()
}

// Recording reports whether the recorder is collecting.
func (r *TurnRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Write appends a mic chunk to the live segment, or to the segment still in
// its flush window when no new turn has started. Chunks delivered twice by
// the underlying primitive are de-duplicated by reference identity.
func (r *TurnRecorder) Write(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seg := r.cur
	if seg == nil {
		seg = r.closing
	}
	if seg == nil {
		return
	}
	seg.write(chunk)
}

// Cut closes the current segment to new Starts and returns it for Collect.
// The segment keeps accepting trailing writes until Collect takes it. Call
// on the turn boundary, before the next turn's first delta can be handled.
// Returns nil when nothing is recording.
func (r *TurnRecorder) Cut() *recorderSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil
	}
	r.closing = r.cur
	return r.cur
}

// FinalizeOptions bounds the flush-and-stop sequence.
type FinalizeOptions struct {
	// FlushAttempts is how many explicit flush requests to make. Default: 3.
	FlushAttempts int
	// Timeout caps the whole wait. Default: 4s.
	Timeout time.Duration
}

// Collect returns the cut segment's audio as one contiguous PCM payload.
// The segment is held open across several flush requests first, because the
// primitive delivers its last buffered data asynchronously. A turn started
// after the Cut is untouched: its segment is a different one. Returns nil
// when nothing was recorded.
func (r *TurnRecorder) Collect(ctx context.Context, seg *recorderSegment, opts FinalizeOptions) ([]byte, error) {
	if seg == nil {
		return nil, nil
	}
	if opts.FlushAttempts <= 0 {
		opts.FlushAttempts = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 4 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	interval := opts.Timeout / time.Duration(opts.FlushAttempts+1)
	lastLen := r.segLen(seg)
	for attempt := 0; attempt < opts.FlushAttempts; attempt++ {
		if r.flusher != nil {
			r.flusher.RequestFlush()
		}
		select {
		case <-ctx.Done():
			// Timeout is a bound, not an error: take what arrived.
			return r.take(seg), nil
		case <-time.After(interval):
		}
		// Stop early once a flush round delivers nothing new.
		if n := r.segLen(seg); n == lastLen && attempt > 0 {
			break
		} else {
			lastLen = n
		}
	}
	return r.take(seg), nil
}

// Finalize cuts the current segment and collects it.
func (r *TurnRecorder) Finalize(ctx context.Context, opts FinalizeOptions) ([]byte, error) {
	return r.Collect(ctx, r.Cut(), opts)
}

// Len returns the number of bytes in the live segment, falling back to the
// segment still flushing out.
func (r *TurnRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		return r.cur.bytes
	}
	if r.closing != nil {
		return r.closing.bytes
	}
	return 0
}

// Duration returns the playback duration of the recorded audio.
func (r *TurnRecorder) Duration() time.Duration {
	return r.config.Duration(r.Len())
}

func (r *TurnRecorder) segLen(seg *recorderSegment) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return seg.bytes
}

func (r *TurnRecorder) take(seg *recorderSegment) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == seg {
		r.cur = nil
	}
	if r.closing == seg {
		r.closing = nil
	}
	return seg.take()
}
