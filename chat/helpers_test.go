package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

var dbSeq atomic.Int64

type fakeConn struct {
	id       string
	capacity int

	mu     sync.Mutex
	events []Outbound
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(evt Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.capacity > 0 && len(c.events) >= c.capacity {
		return ErrSendQueueFull
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) named(name EventName) []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Outbound
	for _, evt := range c.events {
		if evt.Event == name {
			out = append(out, evt)
		}
	}
	return out
}

func (c *fakeConn) last(t *testing.T, name EventName) Outbound {
	t.Helper()
	evts := c.named(name)
	require.NotEmpty(t, evts, "no %s event on %s", name, c.id)
	return evts[len(evts)-1]
}

// authConn is a connection whose identity came from a verified token.
type authConn struct {
	*fakeConn
	identity models.Identity
}

func (c *authConn) AuthIdentity() (models.Identity, bool) { return c.identity, true }

func newAuthConn(id, userID string, role models.Role) *authConn {
	return &authConn{fakeConn: newFakeConn(id), identity: models.Identity{UserID: userID, Role: role}}
}

// tokenlessConn came through the transport without a verified token.
type tokenlessConn struct {
	*fakeConn
}

func (c *tokenlessConn) AuthIdentity() (models.Identity, bool) { return models.Identity{}, false }

type stubLimiter struct {
	allow bool
	err   error
}

func (l stubLimiter) Allow(context.Context, string) (bool, error) { return l.allow, l.err }

type recordingPublisher struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (p *recordingPublisher) Publish(evt ActivityEvent) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []EventName {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventName, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type recordingPresence struct {
	mu      sync.Mutex
	online  map[string]string
	offline []string
}

func (p *recordingPresence) SetOnline(_ context.Context, customerID, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online == nil {
		p.online = make(map[string]string)
	}
	p.online[customerID] = roomID
	return nil
}

func (p *recordingPresence) SetOffline(_ context.Context, customerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, customerID)
	p.offline = append(p.offline, customerID)
	return nil
}

type fixture struct {
	gateway  *Gateway
	rooms    *services.RoomService
	messages *services.MessageService
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newWrappedFixture(t, opts, nil)
}

// newWrappedFixture lets wrap decorate the room registry the gateway sees.
func newWrappedFixture(t *testing.T, opts Options, wrap func(*services.RoomService) RoomRegistry) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:chat_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := models.OpenDatabase(models.DriverSQLite, dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrateAll(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	opts.Logger = zerolog.Nop()
	rooms := services.NewRoomService(db, time.Hour)
	messages := services.NewMessageService(db, time.Hour)
	var registry RoomRegistry = rooms
	if wrap != nil {
		registry = wrap(rooms)
	}
	return &fixture{
		gateway:  NewGateway(messages, registry, opts),
		rooms:    rooms,
		messages: messages,
	}
}

func (f *fixture) joinAdmin(t *testing.T, connID, userID string) *fakeConn {
	t.Helper()
	conn := newAuthConn(connID, userID, models.RoleAdmin)
	require.NoError(t, f.gateway.HandleJoin(context.Background(), conn, JoinRequest{}))
	return conn.fakeConn
}

func (f *fixture) joinCustomer(t *testing.T, connID, userID string) (*fakeConn, string) {
	t.Helper()
	conn := newAuthConn(connID, userID, models.RoleCustomer)
	conn.identity.DisplayName = userID + " name"
	require.NoError(t, f.gateway.HandleJoin(context.Background(), conn, JoinRequest{
		UserID: userID,
		Role:   models.RoleCustomer,
	}))
	joined := conn.last(t, EventJoinSuccess).Data.(JoinSuccessPayload)
	require.NotEmpty(t, joined.RoomID)
	return conn.fakeConn, joined.RoomID
}
