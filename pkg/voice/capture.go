package voice

import (
	"context"
	"sync/atomic"
)

// FrameSource delivers fixed-size PCM16 microphone frames. An implementation
// backed by a real input device must fail Start with a permission error when
// microphone access is denied; that error is fatal to session start.
type FrameSource interface {
	Start(ctx context.Context) error
	Frames() <-chan []byte
	Stop() error
}

// FrameWriter receives outbound audio frames. The remote stream client
// implements this.
type FrameWriter interface {
	SendAudioFrame(pcm []byte) error
}

// CapturePipeline reads microphone frames continuously, computes a level
// signal for the UI, and forwards frames to the remote service only while
// the mic-gate is open and the session is not paused.
type CapturePipeline struct {
	source FrameSource
	out    FrameWriter

	gate    atomic.Bool
	paused  atomic.Bool
	started atomic.Bool

	// onLevel receives the mean-absolute amplitude and RMS energy of
	// every frame, gated or not. Advisory only.
	onLevel func(level, energy float64)
	// onFrame receives every frame regardless of the gate; the session
	// mixer and the user turn recorder tap the stream here.
	onFrame func(pcm []byte)
	onError func(err error)

	done chan struct{}
}

// CaptureOptions configures a CapturePipeline.
type CaptureOptions struct {
	Source  FrameSource
	Out     FrameWriter
	OnLevel func(level, energy float64)
	OnFrame func(pcm []byte)
	OnError func(err error)
}

// NewCapturePipeline creates a pipeline with the mic-gate closed.
func NewCapturePipeline(opts CaptureOptions) *CapturePipeline {
	return &CapturePipeline{
		source:  opts.Source,
		out:     opts.Out,
		onLevel: opts.OnLevel,
		onFrame: opts.OnFrame,
		onError: opts.OnError,
		done:    make(chan struct{}),
	}
}

// Start opens the source and begins the forward loop. A source open failure
// (microphone permission denied) is returned as a fatal error and nothing
// is started.
func (p *CapturePipeline) Start(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return NewFatalError("capture.start", "microphone unavailable", err)
	}
	p.started.Store(true)
	go p.loop(ctx)
	return nil
}

// Stop stops the underlying source. The forward loop exits when the source
// closes its frame channel.
func (p *CapturePipeline) Stop() error {
	if !p.started.CompareAndSwap(true, false) {
		return nil
	}
	err := p.source.Stop()
	<-p.done
	return err
}

// SetGate opens or closes the mic-gate.
func (p *CapturePipeline) SetGate(open bool) { p.gate.Store(open) }

// GateOpen reports the current mic-gate state.
func (p *CapturePipeline) GateOpen() bool { return p.gate.Load() }

// SetPaused suspends forwarding without touching the gate, so resume can
// restore the pre-pause gate value.
func (p *CapturePipeline) SetPaused(paused bool) { p.paused.Store(paused) }

func (p *CapturePipeline) loop(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.source.Frames():
			if !ok {
				return
			}
			p.handle(frame)
		}
	}
}

func (p *CapturePipeline) handle(frame []byte) {
	if p.onLevel != nil {
		p.onLevel(MeanAbsAmplitude(frame), RMSEnergy(frame))
	}
	if p.onFrame != nil {
		p.onFrame(frame)
	}
	if p.paused.Load() || !p.gate.Load() {
		return
	}
	if err := p.out.SendAudioFrame(frame); err != nil && p.onError != nil {
		p.onError(NewDegradedError("capture.forward", "send audio frame", err))
	}
}
