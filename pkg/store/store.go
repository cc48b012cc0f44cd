// Package store is the Postgres persistence backend for voice sessions and
// their per-turn messages.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/lingora/lingora/pkg/voice/persist"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists sessions and messages in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("store: open for migrate: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateSession inserts the session record and returns its id.
func (s *Store) CreateSession(ctx context.Context, meta persist.SessionMeta) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_sessions (id, topic, learner_id, language, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, meta.Topic, meta.LearnerID, meta.Language, meta.StartedAt)
	if err != nil {
		return "", fmt.Errorf("store: create session: %w", err)
	}
	return id, nil
}

// CreateMessage inserts one finalized turn's text and returns the message id.
func (s *Store) CreateMessage(ctx context.Context, sessionID string, msg persist.Message) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_messages (id, session_id, idx, speaker, text, spoken_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, sessionID, msg.Index, msg.Speaker, msg.Text, msg.SpokenAt)
	if err != nil {
		return "", fmt.Errorf("store: create message: %w", err)
	}
	return id, nil
}

// PatchMessageAudio attaches the uploaded clip URL to an existing message.
// A repeat patch with the same URL leaves the row unchanged.
func (s *Store) PatchMessageAudio(ctx context.Context, sessionID, messageID, audioURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE voice_messages SET audio_url = $1 WHERE id = $2 AND session_id = $3`,
		audioURL, messageID, sessionID)
	if err != nil {
		return fmt.Errorf("store: patch message audio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: patch message audio: message %s not found", messageID)
	}
	return nil
}

// EndSession writes the terminal fields onto the session record.
func (s *Store) EndSession(ctx context.Context, sessionID string, end persist.SessionEnd) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE voice_sessions
		 SET ended_at = $1, duration_seconds = $2, chars_total = $3, full_audio_url = $4
		 WHERE id = $5`,
		end.EndedAt, int(end.Duration.Seconds()), end.CharactersTotal, end.FullAudioURL, sessionID)
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}
