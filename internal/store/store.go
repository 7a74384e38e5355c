//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store defines the persistence capability used by the real-time
// layer: presence writes, read receipts and chat membership lookups.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the referenced user does not exist.
var ErrNotFound = errors.New("not found")

// Message statuses.
const (
	StatusSent = "sent"
	StatusRead = "read"
)

// Store is implemented by sqlstore (gorm/sqlite) and pgstore (pgx/postgres).
type Store interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	MarkRead(ctx context.Context, chatID, userID string, readAt time.Time) error
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}
