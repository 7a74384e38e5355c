package store

import "time"

// User is the presence-relevant part of a user record.
type User struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"not null"`
	IsOnline  bool   `gorm:"not null;default:false"`
	LastSeen  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatParticipant links a user to a chat.
type ChatParticipant struct {
	ChatID     string `gorm:"primaryKey"`
	UserID     string `gorm:"primaryKey;index"`
	LastReadAt *time.Time
}

// Message is a persisted chat message. Only the status columns are written
// by this service.
type Message struct {
	ID        string `gorm:"primaryKey"`
	ChatID    string `gorm:"not null;index:idx_messages_chat_status"`
	SenderID  string `gorm:"not null"`
	Content   string `gorm:"not null"`
	Status    string `gorm:"not null;default:sent;index:idx_messages_chat_status"`
	ReadAt    *time.Time
	CreatedAt time.Time
}
