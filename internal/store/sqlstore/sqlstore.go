// Package sqlstore implements store.Store on top of gorm with a pure-Go
// sqlite driver.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Store is a gorm backed store.Store.
type Store struct {
	db *gorm.DB
}

// Open opens the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %q: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db)
}

// New wraps an existing gorm connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&store.User{}, &store.ChatParticipant{}, &store.Message{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying gorm connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SetOnline(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).
		Model(&store.User{}).
		Where("id = ?", userID).
		Update("is_online", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	return nil
}

// SetOffline marks the user offline. last_seen only moves forward.
func (s *Store) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	lastSeen = lastSeen.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user store.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
			}
			return err
		}

		updates := map[string]any{"is_online": false}
		if user.LastSeen == nil || user.LastSeen.Before(lastSeen) {
			updates["last_seen"] = lastSeen
		}
		return tx.Model(&store.User{}).Where("id = ?", userID).Updates(updates).Error
	})
}

// MarkRead flags every message of the chat not sent by userID as read and
// advances the participant's read marker.
func (s *Store) MarkRead(ctx context.Context, chatID, userID string, readAt time.Time) error {
	readAt = readAt.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&store.Message{}).
			Where("chat_id = ? AND sender_id <> ? AND status <> ?", chatID, userID, store.StatusRead).
			Updates(map[string]any{"status": store.StatusRead, "read_at": readAt}).Error
		if err != nil {
			return err
		}

		var participant store.ChatParticipant
		err = tx.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if participant.LastReadAt != nil && !participant.LastReadAt.Before(readAt) {
			return nil
		}
		return tx.Model(&store.ChatParticipant{}).
			Where("chat_id = ? AND user_id = ?", chatID, userID).
			Update("last_read_at", readAt).Error
	})
}

func (s *Store) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&store.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	var user store.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, fmt.Errorf("user %s: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if user.LastSeen == nil {
		return time.Time{}, false, nil
	}
	return *user.LastSeen, true, nil
}
