package models

import (
	"time"

	"gorm.io/gorm"
)

type RoomStatus string

const (
	RoomStatusActive  RoomStatus = "active"
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusClosed  RoomStatus = "closed"
)

// Valid reports whether s is one of the three support statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusActive, RoomStatusWaiting, RoomStatusClosed:
		return true
	}
	return false
}

// Room is a customer's support conversation. At most one live (non-deleted) room
// exists per customer, enforced by the partial unique index on customer_id.
type Room struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	CustomerID     string         `json:"customer_id" gorm:"size:64;not null;uniqueIndex:idx_rooms_customer_live,where:deleted_at IS NULL"`
	CustomerName   string         `json:"customer_name" gorm:"size:200"`
	CustomerEmail  string         `json:"customer_email" gorm:"size:254"`
	Status         RoomStatus     `json:"status" gorm:"type:varchar(16);not null;default:'active';index"`
	LastMessage    string         `json:"last_message" gorm:"type:text"`
	LastMessageAt  *time.Time     `json:"last_message_at"`
	UnreadCount    int            `json:"unread_count" gorm:"not null;default:0"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ExpiresAt      time.Time      `json:"-" gorm:"not null;index"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}
