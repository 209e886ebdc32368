package models

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// Message is immutable once stored, except for Read flipping false -> true.
type Message struct {
	ID         string      `json:"id" gorm:"primaryKey;size:26"`
	RoomID     string      `json:"room_id" gorm:"size:36;not null;index:idx_messages_room_created,priority:1"`
	SenderID   string      `json:"sender_id" gorm:"size:64;not null"`
	SenderRole Role        `json:"sender_role" gorm:"type:varchar(16);not null"`
	SenderName string      `json:"sender_name" gorm:"size:200"`
	Body       string      `json:"body" gorm:"type:text;not null"`
	Type       MessageType `json:"type" gorm:"type:varchar(16);not null;default:'text'"`
	Read       bool        `json:"read" gorm:"column:is_read;not null;default:false"`
	CreatedAt  time.Time   `json:"created_at" gorm:"not null;index:idx_messages_room_created,priority:2"`
	ExpiresAt  time.Time   `json:"-" gorm:"not null;index"`
}
