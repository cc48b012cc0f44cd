// Package persist reconciles the turn-based transcript with asynchronous
// audio uploads. Text persists the moment a turn finalizes; audio uploads
// later and is backfilled onto the already-saved message by id.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/lingora/lingora/pkg/blob"
)

// SessionMeta describes a session at creation time.
type SessionMeta struct {
	Topic     string
	LearnerID string
	Language  string
	StartedAt time.Time
}

// SessionEnd carries the terminal fields written at end-of-session.
type SessionEnd struct {
	EndedAt         time.Time
	Duration        time.Duration
	CharactersTotal int
	FullAudioURL    string
}

// Message is one finalized turn's text. Speaker is "user" or "agent".
type Message struct {
	Index    int
	Speaker  string
	Text     string
	SpokenAt time.Time
}

// Backend is the persistence collaborator. The Postgres implementation
// lives in pkg/store.
type Backend interface {
	CreateSession(ctx context.Context, meta SessionMeta) (string, error)
	CreateMessage(ctx context.Context, sessionID string, msg Message) (string, error)
	PatchMessageAudio(ctx context.Context, sessionID, messageID, audioURL string) error
	EndSession(ctx context.Context, sessionID string, end SessionEnd) error
}

// BlobStore uploads audio artifacts. Uploads with the same key overwrite
// idempotently.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Pipeline implements the two-phase persist/backfill ordering: session
// record first, message text synchronously on finalize, audio upload and
// URL backfill whenever the clip becomes ready.
type Pipeline struct {
	backend Backend
	blobs   BlobStore
	logger  *slog.Logger

	// backfill bounds for the patch step.
	backfillAttempts uint64
	backfillBase     time.Duration

	mu         sync.Mutex
	sessionID  string
	messageIDs map[int]string
	chars      int
}

// Options configures a Pipeline.
type Options struct {
	Backend Backend
	Blobs   BlobStore
	Logger  *slog.Logger
	// BackfillAttempts caps patch retries. Default: 3.
	BackfillAttempts uint64
	// BackfillBase is the initial backoff. Default: 500ms.
	BackfillBase time.Duration
}

// New creates a pipeline. Backend and Blobs may be nil; every operation
// then degrades to best-effort no-ops so the conversation never blocks on
// persistence availability.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BackfillAttempts == 0 {
		opts.BackfillAttempts = 3
	}
	if opts.BackfillBase <= 0 {
		opts.BackfillBase = 500 * time.Millisecond
	}
	return &Pipeline{
		backend:          opts.Backend,
		blobs:            opts.Blobs,
		logger:           opts.Logger,
		backfillAttempts: opts.BackfillAttempts,
		backfillBase:     opts.BackfillBase,
		messageIDs:       make(map[int]string),
	}
}

// StartSession creates the session record before any turn occurs, so later
// uploads have a stable identifier to key on. Creation failure is not fatal:
// the session proceeds without persistence, degrading to best-effort
// end-of-session upload only.
func (p *Pipeline) StartSession(ctx context.Context, meta SessionMeta) string {
	if p.backend == nil {
		return ""
	}
	id, err := p.backend.CreateSession(ctx, meta)
	if err != nil {
		p.logger.Warn("session record creation failed, continuing without persistence",
			"topic", meta.Topic, "error", err)
		return ""
	}
	p.mu.Lock()
	p.sessionID = id
	p.mu.Unlock()
	return id
}

// SessionID returns the persisted session identifier, or "" when creation
// failed or never ran.
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// AddCharacters accumulates the usage proxy from observed text deltas.
func (p *Pipeline) AddCharacters(n int) {
	p.mu.Lock()
	p.chars += n
	p.mu.Unlock()
}

// Characters returns the running character total.
func (p *Pipeline) Characters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chars
}

// SaveMessage persists a finalized turn's text synchronously and records
// the message identifier under the transcript index. It never waits for
// audio: text is available in milliseconds, clips take seconds.
func (p *Pipeline) SaveMessage(ctx context.Context, msg Message) (string, error) {
	p.mu.Lock()
	sessionID := p.sessionID
	p.mu.Unlock()
	if p.backend == nil || sessionID == "" {
		return "", nil
	}

	id, err := p.backend.CreateMessage(ctx, sessionID, msg)
	if err != nil {
		return "", fmt.Errorf("persist message %d: %w", msg.Index, err)
	}
	p.mu.Lock()
	p.messageIDs[msg.Index] = id
	p.mu.Unlock()
	return id, nil
}

// MessageID returns the persisted id for a transcript index.
func (p *Pipeline) MessageID(index int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.messageIDs[index]
	return id, ok
}

// UploadTurnAudio uploads a finalized clip and backfills its URL onto the
// already-persisted message. Callers run it from a goroutine; completion
// order across turns is arbitrary and safe because the patch is idempotent
// and keyed by message id. Failure surfaces only as a missing audio URL.
func (p *Pipeline) UploadTurnAudio(ctx context.Context, index int, speaker string, data []byte, contentType, ext string) (string, error) {
	p.mu.Lock()
	sessionID := p.sessionID
	messageID := p.messageIDs[index]
	p.mu.Unlock()

	if p.blobs == nil || sessionID == "" || len(data) == 0 {
		return "", nil
	}

	key := blob.TurnClipKey(sessionID, index, speaker, ext)
	url, err := p.blobs.Upload(ctx, key, data, contentType)
	if err != nil {
		p.logger.Warn("turn audio upload failed",
			"session_id", sessionID, "index", index, "speaker", speaker, "error", err)
		return "", fmt.Errorf("turn audio upload: %w", err)
	}

	if messageID == "" {
		// Text persistence failed earlier; the clip is uploaded but has
		// no message to attach to.
		return url, nil
	}
	if err := p.backfillAudio(ctx, sessionID, messageID, url); err != nil {
		p.logger.Warn("audio backfill failed",
			"session_id", sessionID, "message_id", messageID, "error", err)
		return url, fmt.Errorf("attach audio url: %w", err)
	}
	return url, nil
}

// backfillAudio patches the message record with bounded backoff. The patch
// is idempotent, so retrying after an ambiguous failure is safe.
func (p *Pipeline) backfillAudio(ctx context.Context, sessionID, messageID, url string) error {
	backoff := retry.WithMaxRetries(p.backfillAttempts, retry.NewExponential(p.backfillBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.backend.PatchMessageAudio(ctx, sessionID, messageID, url); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// EndSession uploads the full-session recording (best-effort), closes the
// session record with its aggregate fields, and returns the recording's URL
// when the upload succeeded.
func (p *Pipeline) EndSession(ctx context.Context, endedAt time.Time, duration time.Duration, fullAudio []byte) (string, error) {
	p.mu.Lock()
	sessionID := p.sessionID
	chars := p.chars
	p.mu.Unlock()
	if p.backend == nil || sessionID == "" {
		return "", nil
	}

	fullURL := ""
	if p.blobs != nil && len(fullAudio) > 0 {
		url, err := p.blobs.Upload(ctx, blob.SessionAudioKey(sessionID), fullAudio, "audio/ogg")
		if err != nil {
			p.logger.Warn("session audio upload failed", "session_id", sessionID, "error", err)
		} else {
			fullURL = url
		}
	}

	err := p.backend.EndSession(ctx, sessionID, SessionEnd{
		EndedAt:         endedAt,
		Duration:        duration,
		CharactersTotal: chars,
		FullAudioURL:    fullURL,
	})
	return fullURL, err
}
