package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "chat:presence:customers"

// OnlineCustomer is one entry of the presence hash.
type OnlineCustomer struct {
	CustomerID string    `json:"customer_id"`
	RoomID     string    `json:"room_id"`
	Since      time.Time `json:"since"`
}

// PresenceStore mirrors online customers into a Redis hash keyed by customer id,
// so every gateway instance and the HTTP surface see the same list.
type PresenceStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPresenceStore(rdb *redis.Client, ttl time.Duration) *PresenceStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceStore{rdb: rdb, ttl: ttl}
}

func (p *PresenceStore) SetOnline(ctx context.Context, customerID, roomID string) error {
	data, err := json.Marshal(OnlineCustomer{
		CustomerID: customerID,
		RoomID:     roomID,
		Since:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, presenceKey, customerID, data)
	pipe.Expire(ctx, presenceKey, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set presence for %s: %w", customerID, err)
	}
	return nil
}

func (p *PresenceStore) SetOffline(ctx context.Context, customerID string) error {
	if err := p.rdb.HDel(ctx, presenceKey, customerID).Err(); err != nil {
		return fmt.Errorf("clear presence for %s: %w", customerID, err)
	}
	return nil
}

// Online lists online customers, oldest connection first.
func (p *PresenceStore) Online(ctx context.Context) ([]OnlineCustomer, error) {
	result, err := p.rdb.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online customers: %w", err)
	}

	customers := make([]OnlineCustomer, 0, len(result))
	for _, data := range result {
		var c OnlineCustomer
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			continue
		}
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool {
		return customers[i].Since.Before(customers[j].Since)
	})
	return customers, nil
}
