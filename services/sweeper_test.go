package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/6587027/VipStore-sub001/models"
)

func TestSweepOnceRemovesOnlyExpiredRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	staleRooms := NewRoomService(db, -time.Minute)
	staleMessages := NewMessageService(db, -time.Minute)
	rooms := NewRoomService(db, time.Hour)
	messages := NewMessageService(db, time.Hour)

	stale, _, err := staleRooms.ResolveOrCreate(ctx, "cust-stale", "", "")
	require.NoError(t, err)
	appendText(t, staleMessages, stale.ID, models.RoleCustomer, "old")

	live, _, err := rooms.ResolveOrCreate(ctx, "cust-live", "", "")
	require.NoError(t, err)
	appendText(t, messages, live.ID, models.RoleCustomer, "new")

	sweeper := NewSweeper(messages, rooms, time.Minute, zerolog.Nop())
	res, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Messages)
	assert.EqualValues(t, 1, res.Rooms)

	_, err = rooms.Get(ctx, live.ID)
	assert.NoError(t, err)
	history, err := messages.RecentHistory(ctx, live.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	res, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Messages)
	assert.Zero(t, res.Rooms)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	sweeper := NewSweeper(NewMessageService(db, time.Hour), NewRoomService(db, time.Hour), 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
