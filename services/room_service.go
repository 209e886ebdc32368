package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/6587027/VipStore-sub001/models"
)

const (
	PreviewLength    = 100
	DefaultListLimit = 50
	ellipsis         = "..."
)

type ListOptions struct {
	Status models.RoomStatus
	Limit  int
}

type RoomService struct {
	db        *gorm.DB
	ttl       time.Duration
	customers *KeyedMutex
}

func NewRoomService(db *gorm.DB, ttl time.Duration) *RoomService {
	return &RoomService{
		db:        db,
		ttl:       ttl,
		customers: NewKeyedMutex(),
	}
}

// Preview is the room-list excerpt of a message body: the body itself up to
// PreviewLength runes, otherwise the first PreviewLength-3 runes plus "...".
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewLength {
		return body
	}
	return string([]rune(body)[:PreviewLength-len(ellipsis)]) + ellipsis
}

func (s *RoomService) live(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("expires_at > ?", time.Now().UTC())
}

func (s *RoomService) Get(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := s.live(ctx).First(&room, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func (s *RoomService) GetByCustomer(ctx context.Context, customerID string) (*models.Room, error) {
	var room models.Room
	if err := s.live(ctx).First(&room, "customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ResolveOrCreate returns the customer's room, creating an active one when none
// exists. Concurrent callers in this process queue on the customer id; callers in
// other processes lose on idx_rooms_customer_live and fall back to reading the winner.
func (s *RoomService) ResolveOrCreate(ctx context.Context, customerID, name, email string) (*models.Room, bool, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, false, ErrCustomerRequired
	}
	unlock := s.customers.Lock(customerID)
	defer unlock()

	if err := s.retireExpired(ctx, customerID); err != nil {
		return nil, false, err
	}

	room, err := s.GetByCustomer(ctx, customerID)
	if err == nil {
		return s.revisit(ctx, room, name, email)
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	room = &models.Room{
		ID:             uuid.NewString(),
		CustomerID:     customerID,
		CustomerName:   name,
		CustomerEmail:  email,
		Status:         models.RoomStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(room).Error; err != nil {
		existing, getErr := s.GetByCustomer(ctx, customerID)
		if getErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create room: %w", err)
	}
	return room, true, nil
}

// retireExpired soft-deletes an expired room the sweeper has not reached yet, so
// the customer gets a fresh room instead of colliding with the stale one.
func (s *RoomService) retireExpired(ctx context.Context, customerID string) error {
	return s.db.WithContext(ctx).
		Where("customer_id = ? AND expires_at <= ?", customerID, time.Now().UTC()).
		Delete(&models.Room{}).Error
}

func (s *RoomService) revisit(ctx context.Context, room *models.Room, name, email string) (*models.Room, bool, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"last_activity_at": now,
		"expires_at":       now.Add(s.ttl),
	}
	if name != "" && name != room.CustomerName {
		updates["customer_name"] = name
	}
	if email != "" && email != room.CustomerEmail {
		updates["customer_email"] = email
	}
	if err := s.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", room.ID).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("touch room: %w", err)
	}
	room.LastActivityAt = now
	room.ExpiresAt = now.Add(s.ttl)
	if v, ok := updates["customer_name"]; ok {
		room.CustomerName = v.(string)
	}
	if v, ok := updates["customer_email"]; ok {
		room.CustomerEmail = v.(string)
	}
	return room, false, nil
}

// TouchOnMessage records a new message on the room in a single UPDATE. The unread
// counter is bumped in SQL, never read-modify-written, and only for customer
// messages that no admin is currently viewing.
func (s *RoomService) TouchOnMessage(ctx context.Context, roomID, preview string, senderRole models.Role, viewed bool) (*models.Room, error) {
	increment := 0
	if senderRole == models.RoleCustomer && !viewed {
		increment = 1
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"last_message":     Preview(preview),
			"last_message_at":  now,
			"last_activity_at": now,
			"expires_at":       now.Add(s.ttl),
			"unread_count":     gorm.Expr("unread_count + ?", increment),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("touch room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRoomNotFound
	}
	return s.Get(ctx, roomID)
}

func (s *RoomService) ResetUnread(ctx context.Context, roomID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("unread_count", 0)
	if res.Error != nil {
		return fmt.Errorf("reset unread: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// SetStatus moves a room to any of the three statuses; there is no transition graph.
func (s *RoomService) SetStatus(ctx context.Context, roomID string, status models.RoomStatus) (*models.Room, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	res := s.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"status":           status,
			"last_activity_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("set status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrRoomNotFound
	}
	return s.Get(ctx, roomID)
}

// ListAll is the admin dashboard snapshot: a capped full scan, most recent message first.
func (s *RoomService) ListAll(ctx context.Context, opts ListOptions) ([]models.Room, error) {
	limit := opts.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	query := s.live(ctx)
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		query = query.Where("status = ?", opts.Status)
	}
	rooms := make([]models.Room, 0, limit)
	err := query.
		Order("COALESCE(last_message_at, created_at) DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// Delete removes the room and all of its messages in one transaction.
func (s *RoomService) Delete(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&room).Error
	})
}

// SoftDeleteExpired retires rooms whose inactivity window has passed.
func (s *RoomService) SoftDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&models.Room{})
	return res.RowsAffected, res.Error
}
