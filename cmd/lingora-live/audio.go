package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/lingora/lingora/pkg/voice"
)

// frameDuration is the size of one capture frame. 20ms at 16kHz mono is
// 320 samples, 640 bytes.
const frameDuration = 20 * time.Millisecond

// micSource reads PCM16 frames from the default input device. It
// implements voice.FrameSource.
type micSource struct {
	config voice.AudioConfig

	frames chan []byte
	buf    []int16
	stream *portaudio.Stream

	stop chan struct{}
	done chan struct{}
}

func newMicSource(config voice.AudioConfig) *micSource {
	samples := config.SampleRate * config.Channels * int(frameDuration/time.Millisecond) / 1000
	return &micSource{
		config: config,
		frames: make(chan []byte, 16),
		buf:    make([]int16, samples),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (m *micSource) Start(ctx context.Context) error {
	stream, err := portaudio.OpenDefaultStream(
		m.config.Channels, 0, float64(m.config.SampleRate), len(m.buf), m.buf)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start microphone: %w", err)
	}
	m.stream = stream
	go m.loop(ctx)
	return nil
}

func (m *micSource) Frames() <-chan []byte { return m.frames }

func (m *micSource) Stop() error {
	close(m.stop)
	<-m.done
	return nil
}

func (m *micSource) loop(ctx context.Context) {
	defer close(m.done)
	defer close(m.frames)
	defer func() {
		m.stream.Stop()
		m.stream.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		default:
		}
		if err := m.stream.Read(); err != nil {
			// Overflows are routine when a frame handler runs long.
			if err == portaudio.InputOverflowed {
				continue
			}
			return
		}
		frame := make([]byte, len(m.buf)*2)
		for i, sample := range m.buf {
			frame[i*2] = byte(sample)
			frame[i*2+1] = byte(sample >> 8)
		}
		select {
		case m.frames <- frame:
		default:
			// The session fell behind; drop rather than stall the device.
		}
	}
}

// speakerSink plays scheduled buffers on the default output device in
// arrival order, honoring each buffer's start time. It implements
// voice.Sink.
type speakerSink struct {
	config voice.AudioConfig

	mu    sync.Mutex
	queue []queuedClip
	gen   int

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	stream *portaudio.Stream
	buf    []int16
}

type queuedClip struct {
	gen     int
	pcm     []byte
	startAt time.Time
}

func newSpeakerSink(config voice.AudioConfig) (*speakerSink, error) {
	samples := config.SampleRate * config.Channels * int(frameDuration/time.Millisecond) / 1000
	s := &speakerSink{
		config: config,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		buf:    make([]int16, samples),
	}
	stream, err := portaudio.OpenDefaultStream(
		0, config.Channels, float64(config.SampleRate), len(s.buf), s.buf)
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start speaker: %w", err)
	}
	s.stream = stream
	go s.run()
	return s, nil
}

func (s *speakerSink) Play(pcm []byte, startAt time.Time) error {
	s.mu.Lock()
	s.queue = append(s.queue, queuedClip{gen: s.gen, pcm: pcm, startAt: startAt})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Stop drops everything queued. The scheduler calls this on interruption;
// the buffer currently inside the device period finishes on its own.
func (s *speakerSink) Stop() error {
	s.mu.Lock()
	s.gen++
	s.queue = s.queue[:0]
	s.mu.Unlock()
	return nil
}

// Close releases the output device.
func (s *speakerSink) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *speakerSink) run() {
	defer close(s.done)
	defer func() {
		s.stream.Stop()
		s.stream.Close()
	}()

	for {
		clip, ok := s.next()
		if !ok {
			select {
			case <-s.stop:
				return
			case <-s.wake:
				continue
			}
		}
		if wait := time.Until(clip.startAt); wait > 0 {
			select {
			case <-s.stop:
				return
			case <-time.After(wait):
			}
		}
		s.write(clip)
	}
}

func (s *speakerSink) next() (queuedClip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return queuedClip{}, false
	}
	clip := s.queue[0]
	s.queue = s.queue[1:]
	return clip, true
}

func (s *speakerSink) write(clip queuedClip) {
	samples := voice.PCM16ToSamples(clip.pcm)
	for off := 0; off < len(samples); off += len(s.buf) {
		select {
		case <-s.stop:
			return
		default:
		}
		s.mu.Lock()
		stale := clip.gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}

		n := copy(s.buf, samples[off:])
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		if err := s.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return
		}
	}
}
