package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/6587027/VipStore-sub001/models"
)

const (
	MaxBodyLength       = 2000
	MaxSenderNameLength = 50
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 200
)

type AppendInput struct {
	RoomID     string
	SenderID   string
	SenderName string
	Role       models.Role
	Body       string
	Type       models.MessageType
	// Read stores the message as already acknowledged, e.g. when an admin is viewing the room.
	Read bool
}

type HistoryPage struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// MessageService is the durable message log. Every row carries its own expiry;
// reads ignore expired rows and the Sweeper removes them.
type MessageService struct {
	db  *gorm.DB
	ttl time.Duration

	mu      sync.Mutex
	last    time.Time
	entropy io.Reader
}

func NewMessageService(db *gorm.DB, ttl time.Duration) *MessageService {
	return &MessageService{
		db:      db,
		ttl:     ttl,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// stamp hands out strictly increasing timestamps and ids, so rows inserted by
// this process sort identically by (created_at, id).
func (s *MessageService) stamp() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	id := ulid.MustNew(ulid.Timestamp(now), s.entropy)
	return now, id.String()
}

func (s *MessageService) Append(ctx context.Context, in AppendInput) (*models.Message, error) {
	body := truncateRunes(strings.TrimSpace(in.Body), MaxBodyLength)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	createdAt, id := s.stamp()
	msg := &models.Message{
		ID:         id,
		RoomID:     in.RoomID,
		SenderID:   in.SenderID,
		SenderRole: in.Role,
		SenderName: truncateRunes(strings.TrimSpace(in.SenderName), MaxSenderNameLength),
		Body:       body,
		Type:       msgType,
		Read:       in.Read,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}
	return msg, nil
}

// RecentHistory returns the newest limit messages of a room, oldest first.
// The query walks idx_messages_room_created backwards and the slice is reversed here.
func (s *MessageService) RecentHistory(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND expires_at > ?", roomID, time.Now().UTC()).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	reverseMessages(messages)
	return messages, nil
}

// History pages backwards from before (exclusive); a zero before starts at the newest message.
func (s *MessageService) History(ctx context.Context, roomID string, before time.Time, limit int) (HistoryPage, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = 50
	}
	query := s.db.WithContext(ctx).
		Where("room_id = ? AND expires_at > ?", roomID, time.Now().UTC())
	if !before.IsZero() {
		query = query.Where("created_at < ?", before.UTC())
	}

	var messages []models.Message
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&messages).Error
	if err != nil {
		return HistoryPage{}, fmt.Errorf("load history page: %w", err)
	}
	page := HistoryPage{HasMore: len(messages) > limit}
	if page.HasMore {
		messages = messages[:limit]
	}
	reverseMessages(messages)
	page.Messages = messages
	return page, nil
}

// MarkRead flags every unread message authored by role in the room. Idempotent.
func (s *MessageService) MarkRead(ctx context.Context, roomID string, role models.Role) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("room_id = ? AND sender_role = ? AND is_read = ?", roomID, role, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *MessageService) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func reverseMessages(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
