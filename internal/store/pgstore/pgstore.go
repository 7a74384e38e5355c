// Package pgstore implements store.Store on PostgreSQL through pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tyrowin/chatrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	is_online  BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen  TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	last_read_at TIMESTAMPTZ,
	PRIMARY KEY (chat_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'sent',
	read_at    TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_status ON messages (chat_id, status);
`

// Store is a pgxpool backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables used by this service when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) SetOnline(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_online = TRUE, updated_at = now() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return nil
}

// SetOffline marks the user offline. last_seen only moves forward.
func (s *Store) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET is_online = FALSE,
		    last_seen = GREATEST(COALESCE(last_seen, $2), $2),
		    updated_at = now()
		WHERE id = $1`, userID, lastSeen.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return nil
}

// MarkRead flags every message of the chat not sent by userID as read and
// advances the participant's read marker.
func (s *Store) MarkRead(ctx context.Context, chatID, userID string, readAt time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE messages SET status = $3, read_at = $4
			WHERE chat_id = $1 AND sender_id <> $2 AND status <> $3`,
			chatID, userID, store.StatusRead, readAt.UTC())
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE chat_participants
			SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
			WHERE chat_id = $1 AND user_id = $2`,
			chatID, userID, readAt.UTC())
		return err
	})
}

func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	var lastSeen *time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_seen FROM users WHERE id = $1`, userID).Scan(&lastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if lastSeen == nil {
		return time.Time{}, false, nil
	}
	return *lastSeen, true, nil
}
