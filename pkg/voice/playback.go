package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Sink plays scheduled PCM buffers. Play must not block for the duration of
// the audio; startAt is on the scheduler's clock. Stop discards everything
// currently playing.
type Sink interface {
	Play(pcm []byte, startAt time.Time) error
	Stop() error
}

// playbackTask is one decode+schedule unit. Tasks for a stream are consumed
// by a single goroutine so decode latency jitter can never reorder playback.
type playbackTask struct {
	gen     int64
	turn    int
	payload string
}

type scheduledSource struct {
	turn  int
	endAt time.Time
}

// Scheduler decodes incoming agent audio deltas and schedules them on a
// monotonic output clock for gapless, order-preserving playback.
//
// For each delta: decode base64 to PCM, hand the buffer to the per-turn
// collector, then schedule it at max(nextFreeAt, now) and advance
// nextFreeAt by the buffer's duration. An interruption empties the
// scheduled set, drops the pending queue, and resets nextFreeAt to now.
type Scheduler struct {
	config AudioConfig
	sink   Sink
	now    func() time.Time

	// onChunk receives every decoded buffer with its turn index, before
	// scheduling. Used to feed the turn clip collector.
	onChunk func(turn int, pcm []byte)

	gen   atomic.Int64
	tasks chan playbackTask

	mu         sync.Mutex
	nextFreeAt time.Time
	sources    []scheduledSource
	// inFlight marks a task the consumer has popped but not yet scheduled,
	// so Idle cannot report true between dequeue and schedule.
	inFlight bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Config  AudioConfig
	Sink    Sink
	Now     func() time.Time
	OnChunk func(turn int, pcm []byte)
	// QueueSize bounds the pending decode queue. Default: 256.
	QueueSize int
}

// NewScheduler creates a stopped scheduler; call Start before enqueueing.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Config.SampleRate == 0 {
		opts.Config = PlaybackAudioConfig()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Scheduler{
		config:  opts.Config,
		sink:    opts.Sink,
		now:     opts.Now,
		onChunk: opts.OnChunk,
		tasks:   make(chan playbackTask, opts.QueueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the single consumer loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.loop()
}

// Stop terminates the consumer loop and stops the sink.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	if s.sink != nil {
		_ = s.sink.Stop()
	}
}

// Enqueue queues one base64-encoded audio delta for the given turn.
// Returns an error if the pending queue is full rather than blocking the
// event reader.
func (s *Scheduler) Enqueue(turn int, payload string) error {
	task := playbackTask{gen: s.gen.Load(), turn: turn, payload: payload}
	select {
	case s.tasks <- task:
		return nil
	default:
		return fmt.Errorf("playback queue full, dropping %d byte delta", len(payload))
	}
}

// Interrupt discards every scheduled and pending source and resets the
// output clock to now. Returns how many scheduled sources were dropped.
func (s *Scheduler) Interrupt() int {
	s.gen.Add(1)

	// Drop the pending decode queue. The consumer also checks generations,
	// so anything it already pulled is discarded there.
	for drained := false; !drained; {
		select {
		case <-s.tasks:
		default:
			drained = true
		}
	}

	s.mu.Lock()
	dropped := s.countScheduledLocked(s.now())
	s.sources = s.sources[:0]
	s.nextFreeAt = s.now()
	s.mu.Unlock()

	if s.sink != nil {
		_ = s.sink.Stop()
	}
	return dropped
}

// Scheduled returns the number of sources still scheduled or playing.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countScheduledLocked(s.now())
}

// Idle reports whether the pending queue is empty, no task is mid-decode,
// and no source is scheduled or playing.
func (s *Scheduler) Idle() bool {
	if len(s.tasks) != 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inFlight && s.countScheduledLocked(s.now()) == 0
}

// AwaitIdle blocks until Idle or ctx is done.
func (s *Scheduler) AwaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NextFreeAt returns the output clock's next free time.
func (s *Scheduler) NextFreeAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFreeAt
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.tasks:
			s.mu.Lock()
			s.inFlight = true
			s.mu.Unlock()
			s.process(task)
			s.mu.Lock()
			s.inFlight = false
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) process(task playbackTask) {
	if task.gen != s.gen.Load() {
		// Interrupted while queued.
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(task.payload)
	if err != nil || len(pcm) == 0 {
		return
	}

	if s.onChunk != nil {
		s.onChunk(task.turn, pcm)
	}

	// Re-check after decode: an interruption during decode means this
	// buffer is discarded, not queued.
	if task.gen != s.gen.Load() {
		return
	}

	startAt, ok := s.schedule(task, pcm)
	if !ok {
		return
	}
	if s.sink != nil {
		_ = s.sink.Play(pcm, startAt)
	}
}

func (s *Scheduler) schedule(task playbackTask, pcm []byte) (time.Time, bool) {
	dur := s.config.Duration(len(pcm))

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.gen != s.gen.Load() {
		return time.Time{}, false
	}
	now := s.now()
	startAt := s.nextFreeAt
	if startAt.Before(now) {
		startAt = now
	}
	s.nextFreeAt = startAt.Add(dur)
	s.prune(now)
	s.sources = append(s.sources, scheduledSource{turn: task.turn, endAt: s.nextFreeAt})
	return startAt, true
}

// prune drops sources whose playback window has already passed.
func (s *Scheduler) prune(now time.Time) {
	kept := s.sources[:0]
	for _, src := range s.sources {
		if src.endAt.After(now) {
			kept = append(kept, src)
		}
	}
	s.sources = kept
}

func (s *Scheduler) countScheduledLocked(now time.Time) int {
	n := 0
	for _, src := range s.sources {
		if src.endAt.After(now) {
			n++
		}
	}
	return n
}
