package voice

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/lingora/lingora/pkg/voice/persist"
	"github.com/lingora/lingora/pkg/voice/realtime"
)

// RemoteStream is the duplex connection to the conversational speech
// service. *realtime.Client implements it; tests substitute a fake.
type RemoteStream interface {
	Events() <-chan realtime.ServerEvent
	SendAudioFrame(pcm []byte) error
	SendText(text string) error
	Close() error
	Err() error
}

// Persister saves transcript turns and session records. *persist.Pipeline
// implements it. A nil Persister runs the session fully in memory.
type Persister interface {
	StartSession(ctx context.Context, meta persist.SessionMeta) string
	AddCharacters(n int)
	Characters() int
	SaveMessage(ctx context.Context, msg persist.Message) (string, error)
	UploadTurnAudio(ctx context.Context, index int, speaker string, data []byte, contentType, ext string) (string, error)
	EndSession(ctx context.Context, endedAt time.Time, duration time.Duration, fullAudio []byte) (string, error)
}

// Dependencies are the external collaborators of a Session. Stream and Mic
// are required; everything else has a working zero value.
type Dependencies struct {
	// Stream is the already-dialed connection to the speech service.
	Stream RemoteStream

	// Mic delivers PCM16 microphone frames in the capture format.
	Mic FrameSource

	// Sink plays scheduled agent audio. Nil disables audible output;
	// scheduling and clip collection still run.
	Sink Sink

	// Persist saves turns and the session record. Nil disables persistence.
	Persist Persister

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Now is the session clock, injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Session orchestrates one live conversation: capture, playback, the turn
// state machine, per-turn audio finalization, the session mix, and
// persistence. All remote events are handled on a single goroutine; turn
// finalization and uploads run on short-lived workers that never touch
// live-path state directly.
type Session struct {
	cfg    SessionConfig
	stream RemoteStream
	mic    FrameSource
	prst   Persister
	logger *slog.Logger
	now    func() time.Time

	capture   *CapturePipeline
	scheduler *Scheduler
	agentBuf  *TurnBuffer
	userRec   *TurnRecorder
	trans     *Transcript

	mixMu  sync.Mutex
	mixer  *Mixer
	mixBuf bytes.Buffer

	mu        sync.Mutex
	state     SessionState
	sessionID string
	// curAgentTurn is the agent's open transcript index;
	// finalizingAgentTurn is a completed turn still inside its finalize
	// grace window, to which trailing audio deltas belong.
	curAgentTurn        int
	finalizingAgentTurn int
	prePauseGate        bool
	startedAt           time.Time

	greetingDrained chan struct{}
	greetingDone    atomic.Bool

	events chan Event

	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	finalWG sync.WaitGroup
}

// NewSession wires a session from its dependencies. The session is in
// StateIdle until Start.
func NewSession(cfg SessionConfig, deps Dependencies) (*Session, error) {
	if deps.Stream == nil {
		return nil, fmt.Errorf("session: Stream is required")
	}
	if deps.Mic == nil {
		return nil, fmt.Errorf("session: Mic is required")
	}
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Session{
		cfg:                 cfg,
		stream:              deps.Stream,
		mic:                 deps.Mic,
		prst:                deps.Persist,
		logger:              deps.Logger.With("component", "voice_session"),
		now:                 deps.Now,
		state:               StateIdle,
		curAgentTurn:        -1,
		finalizingAgentTurn: -1,
		greetingDrained:     make(chan struct{}, 1),
		events:              make(chan Event, 128),
		done:                make(chan struct{}),
	}

	s.trans = NewTranscript(s.now)
	s.agentBuf = NewTurnBuffer(cfg.PlaybackAudio)

	var flusher Flusher
	if f, ok := deps.Mic.(Flusher); ok {
		flusher = f
	}
	s.userRec = NewTurnRecorder(cfg.CaptureAudio, flusher)

	mixer, err := NewMixer(&s.mixBuf, cfg.CaptureAudio, cfg.PlaybackAudio)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.mixer = mixer

	s.scheduler = NewScheduler(SchedulerOptions{
		Config: cfg.PlaybackAudio,
		Sink:   deps.Sink,
		Now:    s.now,
		OnChunk: func(turn int, pcm []byte) {
			s.agentBuf.Append(turn, pcm)
			s.mixMu.Lock()
			if s.mixer != nil {
				s.mixer.WriteAgent(pcm)
			}
			s.mixMu.Unlock()
		},
	})

	s.capture = NewCapturePipeline(CaptureOptions{
		Source: deps.Mic,
		Out:    deps.Stream,
		OnLevel: func(level, energy float64) {
			s.emit(&MicLevelEvent{Level: level, Energy: energy})
		},
		OnFrame: func(pcm []byte) {
			s.userRec.Write(pcm)
			s.mixMu.Lock()
			if s.mixer != nil {
				if err := s.mixer.WriteMic(pcm); err != nil {
					s.logger.Warn("session mix write failed", "error", err)
				}
			}
			s.mixMu.Unlock()
		},
		OnError: func(err error) {
			s.handleError(NewDegradedError("capture", "microphone stream", err))
		},
	})

	return s, nil
}

// Events returns the channel the UI layer consumes. Slow consumers drop
// events rather than stall the live path.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript exposes the live transcript for read access.
func (s *Session) Transcript() *Transcript { return s.trans }

// Done is closed once teardown has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start brings the session up: microphone first, then the session record,
// then playback, then the greeting instruction. A microphone or stream
// failure here is fatal and leaves nothing running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("session: already started")
	}
	s.state = StateConnecting
	s.startedAt = s.now()
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.capture.Start(s.ctx); err != nil {
		s.cancel()
		s.setState(StateError)
		return err
	}

	var sessionID string
	if s.prst != nil {
		sessionID = s.prst.StartSession(ctx, persist.SessionMeta{
			Topic:     s.cfg.Topic,
			LearnerID: s.cfg.LearnerID,
			Language:  s.cfg.Language,
			StartedAt: s.startedAt,
		})
		s.mu.Lock()
		s.sessionID = sessionID
		s.mu.Unlock()
	}

	s.scheduler.Start(s.ctx)

	greeting := s.cfg.Greeting
	if greeting == "" {
		greeting = fmt.Sprintf("Greet the learner and open the scenario: %s. You speak first.", s.cfg.Topic)
	}
	if err := s.stream.SendText(greeting); err != nil {
		s.teardown(false)
		s.setState(StateError)
		return NewFatalError("session.start", "send greeting instruction", err)
	}

	// The agent speaks first; the mic-gate stays closed until its opening
	// turn has drained or the safety timeout fires.
	s.setState(StateAwaitingGreeting)
	s.emit(&SessionStartedEvent{SessionID: sessionID, Topic: s.cfg.Topic, StartedAt: s.startedAt})

	go s.run()

	s.logger.Info("session started",
		"session_id", sessionID,
		"topic", s.cfg.Topic,
		"language", s.cfg.Language)
	return nil
}

// run is the single event-handling goroutine.
func (s *Session) run() {
	greetingTimer := time.NewTimer(s.cfg.GreetingTimeout)
	defer greetingTimer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-greetingTimer.C:
			if s.greetingDone.CompareAndSwap(false, true) {
				s.logger.Warn("greeting timeout, opening mic", "waited", s.cfg.GreetingTimeout)
				s.emit(&GreetingTimeoutEvent{Waited: s.cfg.GreetingTimeout})
				s.openMic()
			}

		case <-s.greetingDrained:
			if s.greetingDone.CompareAndSwap(false, true) {
				s.openMic()
			}

		case ev, ok := <-s.stream.Events():
			if !ok {
				if !s.closed.Load() {
					s.handleError(NewFatalError("session.stream", "connection lost", s.stream.Err()))
				}
				return
			}
			s.handleServerEvent(ev)
		}
	}
}

func (s *Session) handleServerEvent(ev realtime.ServerEvent) {
	switch ev.Type {
	case realtime.EventSessionOpen:
		// Informational; the greeting instruction is already in flight.

	case realtime.EventAudioDelta:
		s.handleAudioDelta(ev.Audio)

	case realtime.EventTranscriptDelta:
		s.handleTranscriptDelta(Speaker(ev.Speaker), ev.Text)

	case realtime.EventTurnComplete:
		s.handleTurnComplete()

	case realtime.EventInterrupted:
		s.handleInterrupted()

	case realtime.EventError:
		s.handleError(NewDegradedError("session.stream", fmt.Sprintf("service error %s: %s", ev.Code, ev.Message), nil))

	default:
		s.logger.Debug("unknown server event", "type", ev.Type)
	}
}

// handleAudioDelta opens the agent's turn if needed and hands the payload
// to the playback scheduler. Audio deltas are always the agent's.
func (s *Session) handleAudioDelta(payload string) {
	if payload == "" {
		return
	}
	turn := s.agentTurnForAudio()
	if err := s.scheduler.Enqueue(turn, payload); err != nil {
		s.logger.Warn("audio delta dropped", "turn", turn, "error", err)
	}
	s.mu.Lock()
	if s.state == StateListening {
		s.mu.Unlock()
		s.setState(StateAgentSpeaking)
		return
	}
	s.mu.Unlock()
}

func (s *Session) handleTranscriptDelta(speaker Speaker, text string) {
	if text == "" {
		return
	}
	if s.prst != nil {
		s.prst.AddCharacters(utf8.RuneCountInString(text))
	}

	var index int
	switch speaker {
	case SpeakerAgent:
		index = s.ensureAgentTurn()
		s.trans.AppendDelta(SpeakerAgent, text)
	case SpeakerUser:
		index, _ = s.trans.AppendDelta(SpeakerUser, text)
		// The service heard speech, so audio for this turn is already in
		// flight; start collecting if we are not.
		s.userRec.Start()
	default:
		s.logger.Debug("transcript delta with unknown speaker", "speaker", speaker)
		return
	}

	item, ok := s.trans.Item(index)
	if !ok {
		return
	}
	s.emit(&TranscriptUpdatedEvent{Index: index, Speaker: speaker, Text: item.Text})
}

// handleTurnComplete finalizes at most one in-progress turn per speaker,
// persists their text synchronously in transcript order, and hands each
// turn to an async audio finalizer.
func (s *Session) handleTurnComplete() {
	indexes := s.trans.FinalizePending()

	s.mu.Lock()
	agentTurn := s.curAgentTurn
	if agentTurn >= 0 {
		// Trailing audio deltas inside the grace window still belong to
		// this turn; its clip buffer stays keyed to it until Take.
		s.finalizingAgentTurn = agentTurn
	}
	s.curAgentTurn = -1
	s.mu.Unlock()

	for _, index := range indexes {
		item, ok := s.trans.Item(index)
		if !ok {
			continue
		}
		s.emit(&TranscriptUpdatedEvent{Index: index, Speaker: item.Speaker, Text: item.Text, Final: true})
		s.saveMessage(index, item)

		switch item.Speaker {
		case SpeakerAgent:
			if index == agentTurn {
				s.finalWG.Add(1)
				go s.finalizeAgentTurn(index)
			}
		case SpeakerUser:
			// Cut here, on the event goroutine, so the next user turn's
			// first delta cannot land in the finalizing segment.
			seg := s.userRec.Cut()
			s.finalWG.Add(1)
			go s.finalizeUserTurn(index, seg)
		}
	}

	// The greeting is done once the opening turn's scheduled audio drains.
	if !s.greetingDone.Load() {
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.GreetingTimeout)
			defer cancel()
			if err := s.scheduler.AwaitIdle(ctx); err != nil {
				return
			}
			select {
			case s.greetingDrained <- struct{}{}:
			default:
			}
		}()
	}

	s.mu.Lock()
	speaking := s.state == StateAgentSpeaking
	s.mu.Unlock()
	if speaking {
		go func() {
			ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
			defer cancel()
			if s.scheduler.AwaitIdle(ctx) == nil && s.State() == StateAgentSpeaking {
				s.setState(StateListening)
			}
		}()
	}
}

// handleInterrupted clears all audio state. The transcript is untouched:
// the interrupted turn keeps whatever text had arrived, and late audio
// deltas for it are discarded against the old turn index when the next
// turn begins.
func (s *Session) handleInterrupted() {
	dropped := s.scheduler.Interrupt()
	s.logger.Info("interrupted", "dropped_sources", dropped)
	s.emit(&InterruptedEvent{DroppedSources: dropped})

	s.mu.Lock()
	if s.state == StateAgentSpeaking {
		s.mu.Unlock()
		s.setState(StateListening)
		return
	}
	s.mu.Unlock()
}

func (s *Session) handleError(err error) {
	var verr *Error
	fatal := false
	if e, ok := err.(*Error); ok {
		verr = e
		fatal = e.Fatal()
	} else {
		verr = NewDegradedError("session", "unexpected error", err)
	}
	s.logger.Error("session error", "kind", verr.Kind, "op", verr.Op, "error", err)
	s.emit(&ErrorEvent{Kind: verr.Kind, Message: verr.Error()})

	if fatal && !s.closed.Load() {
		s.setState(StateError)
		go s.Close()
	}
}

// agentTurnForAudio returns the turn an audio delta belongs to: the open
// agent turn, or a completed turn still inside its finalize grace window.
// A delta arriving after turn-complete but before finalization takes the
// clip buffer is part of the completed turn; opening a new turn for it
// would discard that clip.
func (s *Session) agentTurnForAudio() int {
	s.mu.Lock()
	if s.curAgentTurn < 0 && s.finalizingAgentTurn >= 0 {
		turn := s.finalizingAgentTurn
		s.mu.Unlock()
		return turn
	}
	s.mu.Unlock()
	return s.ensureAgentTurn()
}

// ensureAgentTurn returns the transcript index of the agent's in-progress
// turn, opening one (and its clip buffer) on the first delta. Opening a
// turn discards any chunks a previous turn left behind.
func (s *Session) ensureAgentTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curAgentTurn >= 0 {
		return s.curAgentTurn
	}
	index, _ := s.trans.AppendDelta(SpeakerAgent, "")
	s.curAgentTurn = index
	if discarded := s.agentBuf.Begin(index); discarded > 0 {
		s.logger.Debug("discarded stale agent audio", "chunks", discarded, "turn", index)
	}
	return index
}

// openMic transitions to Listening and opens the mic-gate, unless the
// session is paused, in which case the gate opens on resume.
func (s *Session) openMic() {
	s.mu.Lock()
	if s.state == StatePaused {
		s.prePauseGate = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.capture.SetGate(true)
	s.emit(&MicGateChangedEvent{Open: true})
	if st := s.State(); st == StateAwaitingGreeting || st == StateConnecting {
		s.setState(StateListening)
	}
}

// Pause closes the mic-gate and stops playback while keeping the
// connection, timers, and transcript alive.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.state == StatePaused || s.state == StateEnded || s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.prePauseGate = s.capture.GateOpen()
	s.mu.Unlock()

	s.capture.SetPaused(true)
	s.capture.SetGate(false)
	s.scheduler.Interrupt()
	s.emit(&MicGateChangedEvent{Open: false})
	s.setState(StatePaused)
}

// Resume restores the mic-gate to its pre-pause value. A session paused
// during the greeting phase resumes with the gate still closed.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	gate := s.prePauseGate
	s.mu.Unlock()

	s.capture.SetPaused(false)
	s.capture.SetGate(gate)
	s.emit(&MicGateChangedEvent{Open: gate})
	if gate {
		s.setState(StateListening)
	} else {
		s.setState(StateAwaitingGreeting)
	}
}

// Close ends the session: remote connection first so no further events
// arrive, then playback, then the microphone, then the session mix and
// record. Idempotent; safe from any goroutine.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		<-s.done
		return nil
	}
	endedAt := s.now()

	s.teardown(true)

	// Let in-flight turn finalizers finish their uploads before the
	// session record is closed out.
	waited := make(chan struct{})
	go func() {
		s.finalWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(15 * time.Second):
		s.logger.Warn("turn finalizers still running at close")
	}

	s.mixMu.Lock()
	var mixErr error
	if s.mixer != nil {
		mixErr = s.mixer.Close()
		s.mixer = nil
	}
	fullAudio := append([]byte(nil), s.mixBuf.Bytes()...)
	s.mixMu.Unlock()
	if mixErr != nil {
		s.logger.Warn("session mix close failed", "error", mixErr)
		fullAudio = nil
	}

	duration := endedAt.Sub(s.startedAt)
	chars := 0
	fullURL := ""
	if s.prst != nil {
		chars = s.prst.Characters()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		url, err := s.prst.EndSession(ctx, endedAt, duration, fullAudio)
		if err != nil {
			s.logger.Warn("end session persist failed", "error", err)
		}
		fullURL = url
		cancel()
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	s.setState(StateEnded)
	s.emit(&SessionEndedEvent{
		SessionID:       sessionID,
		Duration:        duration,
		CharactersTotal: chars,
		FullAudioURL:    fullURL,
	})
	close(s.done)

	s.logger.Info("session ended", "duration", duration, "characters", chars)
	return nil
}

// teardown stops the live path in dependency order.
func (s *Session) teardown(closeStream bool) {
	if closeStream {
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("stream close", "error", err)
		}
	}
	s.scheduler.Stop()
	if err := s.capture.Stop(); err != nil {
		s.logger.Debug("capture stop", "error", err)
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// finalizeAgentTurn waits for the turn's scheduled audio to drain plus a
// grace period for trailing deltas, then encodes the collected chunks as a
// single-header WAV and uploads it.
func (s *Session) finalizeAgentTurn(index int) {
	defer s.finalWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.scheduler.AwaitIdle(ctx); err != nil {
		s.logger.Warn("agent turn drain timed out", "turn", index)
	}
	time.Sleep(s.cfg.FinalizeGrace)

	pcm := s.agentBuf.Take(index)
	s.mu.Lock()
	if s.finalizingAgentTurn == index {
		s.finalizingAgentTurn = -1
	}
	s.mu.Unlock()
	if len(pcm) == 0 {
		return
	}
	clip := EncodeWAV(pcm, s.cfg.PlaybackAudio)
	s.emit(&TurnFinalizedEvent{
		Index:    index,
		Speaker:  SpeakerAgent,
		Duration: s.cfg.PlaybackAudio.Duration(len(pcm)),
	})
	s.uploadClip(ctx, index, SpeakerAgent, clip, "audio/wav", "wav")
}

// finalizeUserTurn collects the turn's cut recorder segment with bounded
// patience, encodes the frames as Ogg/Opus, and uploads the clip.
func (s *Session) finalizeUserTurn(index int, seg *recorderSegment) {
	defer s.finalWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pcm, err := s.userRec.Collect(ctx, seg, FinalizeOptions{
		FlushAttempts: s.cfg.RecorderFlushAttempts,
		Timeout:       s.cfg.RecorderFlushTimeout,
	})
	if err != nil {
		s.logger.Warn("user turn finalize failed", "turn", index, "error", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	clip, err := EncodeOggClip(pcm, s.cfg.CaptureAudio)
	if err != nil {
		s.logger.Warn("user clip encode failed", "turn", index, "error", err)
		return
	}
	s.emit(&TurnFinalizedEvent{
		Index:    index,
		Speaker:  SpeakerUser,
		Duration: s.cfg.CaptureAudio.Duration(len(pcm)),
	})
	s.uploadClip(ctx, index, SpeakerUser, clip, "audio/ogg", "ogg")
}

// saveMessage persists a finalized turn's text synchronously so the message
// row exists before its audio upload completes.
func (s *Session) saveMessage(index int, item TranscriptItem) {
	if s.prst == nil || item.Text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := s.prst.SaveMessage(ctx, persist.Message{
		Index:    index,
		Speaker:  string(item.Speaker),
		Text:     item.Text,
		SpokenAt: item.Timestamp,
	})
	if err != nil {
		s.logger.Warn("message persist failed", "index", index, "error", err)
		return
	}
	s.emit(&MessageSavedEvent{Index: index, MessageID: id, Speaker: item.Speaker})
}

func (s *Session) uploadClip(ctx context.Context, index int, speaker Speaker, clip []byte, contentType, ext string) {
	if s.prst == nil {
		return
	}
	url, err := s.prst.UploadTurnAudio(ctx, index, string(speaker), clip, contentType, ext)
	if err != nil {
		s.logger.Warn("turn audio upload failed", "index", index, "error", err)
		return
	}
	if url == "" {
		return
	}
	if s.trans.SetAudioURL(index, url) {
		s.emit(&AudioAttachedEvent{Index: index, AudioURL: url})
	}
}

func (s *Session) setState(to SessionState) {
	s.mu.Lock()
	from := s.state
	if from == to || from == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("state changed", "from", from.String(), "to", to.String())
	s.emit(&StateChangedEvent{From: from, To: to})
}

// emit delivers an event without ever blocking the live path.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
