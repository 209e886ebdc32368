package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

// stallingRegistry parks the first TouchOnMessage after arm until release is closed.
type stallingRegistry struct {
	*services.RoomService
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *stallingRegistry) TouchOnMessage(ctx context.Context, roomID, preview string, role models.Role, viewed bool) (*models.Room, error) {
	if r.armed.Load() {
		r.once.Do(func() { close(r.entered) })
		<-r.release
	}
	return r.RoomService.TouchOnMessage(ctx, roomID, preview, role, viewed)
}

func TestAdminJoinWaitsForInFlightSend(t *testing.T) {
	registry := &stallingRegistry{entered: make(chan struct{}), release: make(chan struct{})}
	f := newWrappedFixture(t, Options{}, func(rooms *services.RoomService) RoomRegistry {
		registry.RoomService = rooms
		return registry
	})
	ctx := context.Background()
	customer, roomID := f.joinCustomer(t, "cust-conn", "cust-1")
	admin := f.joinAdmin(t, "admin-conn", "admin-1")

	registry.armed.Store(true)
	sent := make(chan error, 1)
	go func() {
		_, err := f.gateway.HandleSend(ctx, customer, SendMessageRequest{Body: "are you there?"})
		sent <- err
	}()
	<-registry.entered

	joined := make(chan error, 1)
	go func() {
		joined <- f.gateway.HandleAdminJoinRoom(ctx, admin, AdminJoinRoomRequest{RoomID: roomID})
	}()
	select {
	case err := <-joined:
		t.Fatalf("admin join finished while a send was still updating the room: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(registry.release)
	require.NoError(t, <-sent)
	require.NoError(t, <-joined)

	assert.True(t, f.gateway.Sessions().AdminViewing(roomID))
	room, err := f.rooms.Get(ctx, roomID)
	require.NoError(t, err)
	assert.Zero(t, room.UnreadCount)

	history, err := f.messages.RecentHistory(ctx, roomID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Read)
}

func TestAcknowledgeRoomWaitsForInFlightSend(t *testing.T) {
	registry := &stallingRegistry{entered: make(chan struct{}), release: make(chan struct{})}
	f := newWrappedFixture(t, Options{}, func(rooms *services.RoomService) RoomRegistry {
		registry.RoomService = rooms
		return registry
	})
	ctx := context.Background()
	customer, roomID := f.joinCustomer(t, "cust-conn", "cust-1")

	registry.armed.Store(true)
	sent := make(chan error, 1)
	go func() {
		_, err := f.gateway.HandleSend(ctx, customer, SendMessageRequest{Body: "hello?"})
		sent <- err
	}()
	<-registry.entered

	acked := make(chan error, 1)
	go func() { acked <- f.gateway.AcknowledgeRoom(ctx, roomID) }()
	select {
	case err := <-acked:
		t.Fatalf("acknowledge finished while a send was still updating the room: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(registry.release)
	require.NoError(t, <-sent)
	require.NoError(t, <-acked)

	room, err := f.rooms.Get(ctx, roomID)
	require.NoError(t, err)
	assert.Zero(t, room.UnreadCount)
}
