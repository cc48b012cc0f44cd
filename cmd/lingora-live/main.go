// Command lingora-live runs one live conversation session from the
// terminal: default microphone in, default speaker out, transcript on
// stdout. It is the integration harness for the session engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/lingora/lingora/internal/dotenv"
	"github.com/lingora/lingora/pkg/blob"
	"github.com/lingora/lingora/pkg/store"
	"github.com/lingora/lingora/pkg/voice"
	"github.com/lingora/lingora/pkg/voice/persist"
	"github.com/lingora/lingora/pkg/voice/realtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	topic := flag.String("topic", "ordering coffee at a cafe", "conversation scenario")
	language := flag.String("language", "", "BCP 47 tag of the practice language")
	learner := flag.String("learner", "", "learner id for the session record")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug || dotenv.Bool("LINGORA_DEBUG") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "lingora-live: %v\n", err)
		return 1
	}

	serviceURL := dotenv.String("LINGORA_SPEECH_URL", "")
	apiKey := dotenv.String("LINGORA_SPEECH_API_KEY", "")
	if serviceURL == "" || apiKey == "" {
		fmt.Fprintln(os.Stderr, "lingora-live: LINGORA_SPEECH_URL and LINGORA_SPEECH_API_KEY are required")
		return 1
	}

	if err := portaudio.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "lingora-live: portaudio: %v\n", err)
		return 1
	}
	defer portaudio.Terminate()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := voice.DefaultSessionConfig()
	cfg.Topic = *topic
	cfg.LearnerID = *learner
	if *language != "" {
		cfg.Language = *language
	}
	cfg.GreetingTimeout = dotenv.Duration("LINGORA_GREETING_TIMEOUT", cfg.GreetingTimeout)

	persister, cleanup, err := buildPersister(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lingora-live: %v\n", err)
		return 1
	}
	defer cleanup()

	stream, err := realtime.Dial(ctx, realtime.Options{
		URL:      serviceURL,
		APIKey:   apiKey,
		Language: cfg.Language,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "lingora-live: connect speech service: %v\n", err)
		return 1
	}

	sink, err := newSpeakerSink(cfg.PlaybackAudio)
	if err != nil {
		stream.Close()
		fmt.Fprintf(os.Stderr, "lingora-live: %v\n", err)
		return 1
	}
	defer sink.Close()

	session, err := voice.NewSession(cfg, voice.Dependencies{
		Stream:  stream,
		Mic:     newMicSource(cfg.CaptureAudio),
		Sink:    sink,
		Persist: persister,
		Logger:  logger,
	})
	if err != nil {
		stream.Close()
		fmt.Fprintf(os.Stderr, "lingora-live: %v\n", err)
		return 1
	}

	if err := session.Start(ctx); err != nil {
		stream.Close()
		fmt.Fprintf(os.Stderr, "lingora-live: start session: %v\n", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			session.Close()
		case <-session.Done():
		}
	}()

	printEvents(session)
	<-session.Done()
	return 0
}

// buildPersister wires the Postgres store and the S3 blob store when their
// environment is present. Either may be absent; the session then runs with
// degraded or no persistence.
func buildPersister(ctx context.Context, logger *slog.Logger) (voice.Persister, func(), error) {
	dsn := dotenv.String("DATABASE_URL", "")
	bucket := dotenv.String("LINGORA_AUDIO_BUCKET", "")
	if dsn == "" && bucket == "" {
		return nil, func() {}, nil
	}

	var backend persist.Backend
	cleanup := func() {}
	if dsn != "" {
		if err := store.Migrate(dsn); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		st, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		backend = st
		cleanup = st.Close
	}

	var blobs persist.BlobStore
	if bucket != "" {
		bs, err := blob.New(ctx, blob.Config{
			Bucket:          bucket,
			Region:          dotenv.String("AWS_REGION", "us-east-1"),
			Endpoint:        dotenv.String("LINGORA_S3_ENDPOINT", ""),
			PublicBaseURL:   dotenv.String("LINGORA_AUDIO_BASE_URL", ""),
			AccessKeyID:     dotenv.String("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: dotenv.String("AWS_SECRET_ACCESS_KEY", ""),
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open blob store: %w", err)
		}
		blobs = bs
	}

	return persist.New(persist.Options{
		Backend: backend,
		Blobs:   blobs,
		Logger:  logger,
	}), cleanup, nil
}

// printEvents renders session events until the event channel drains after
// teardown.
func printEvents(session *voice.Session) {
	lastLevelAt := time.Time{}
	for {
		select {
		case <-session.Done():
			return
		case ev := <-session.Events():
			switch e := ev.(type) {
			case *voice.TranscriptUpdatedEvent:
				marker := ""
				if e.Final {
					marker = " *"
				}
				fmt.Printf("[%s] %s%s\n", e.Speaker, e.Text, marker)
			case *voice.StateChangedEvent:
				fmt.Printf("-- %s\n", e.To)
			case *voice.MicLevelEvent:
				// Throttled level meter.
				if time.Since(lastLevelAt) > time.Second {
					lastLevelAt = time.Now()
					fmt.Printf("-- mic level %.0f%%\n", e.Level*100)
				}
			case *voice.ErrorEvent:
				fmt.Printf("-- error (%s): %s\n", e.Kind, e.Message)
			case *voice.SessionEndedEvent:
				fmt.Printf("-- ended after %s, %d characters\n",
					e.Duration.Round(time.Second), e.CharactersTotal)
			}
		}
	}
}
