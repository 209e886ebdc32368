package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/metrics"
	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

const (
	DefaultHistoryLimit  = 100
	DefaultRoomListLimit = 50

	// SystemSenderID authors order notices and other server-generated messages.
	SystemSenderID = "system"
)

type MessageStore interface {
	Append(ctx context.Context, in services.AppendInput) (*models.Message, error)
	RecentHistory(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, roomID string, role models.Role) (int64, error)
}

type RoomRegistry interface {
	ResolveOrCreate(ctx context.Context, customerID, name, email string) (*models.Room, bool, error)
	Get(ctx context.Context, roomID string) (*models.Room, error)
	TouchOnMessage(ctx context.Context, roomID, preview string, senderRole models.Role, viewed bool) (*models.Room, error)
	ResetUnread(ctx context.Context, roomID string) error
	SetStatus(ctx context.Context, roomID string, status models.RoomStatus) (*models.Room, error)
	ListAll(ctx context.Context, opts services.ListOptions) ([]models.Room, error)
	Delete(ctx context.Context, roomID string) error
}

// RateLimiter throttles sends per user. Errors fail open.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// EventPublisher forwards chat activity to downstream consumers, best effort.
type EventPublisher interface {
	Publish(evt ActivityEvent)
}

// PresenceTracker mirrors which customers are online outside this process.
type PresenceTracker interface {
	SetOnline(ctx context.Context, customerID, roomID string) error
	SetOffline(ctx context.Context, customerID string) error
}

// ActivityEvent is what the gateway reports to an EventPublisher.
type ActivityEvent struct {
	Type       EventName       `json:"type"`
	RoomID     string          `json:"room_id"`
	CustomerID string          `json:"customer_id,omitempty"`
	Message    *models.Message `json:"message,omitempty"`
	At         time.Time       `json:"at"`
}

type Options struct {
	HistoryLimit  int
	RoomListLimit int
	Limiter       RateLimiter
	Publisher     EventPublisher
	Presence      PresenceTracker
	Logger        zerolog.Logger
}

// Gateway routes client events to the stores and fans the results out. It owns
// the session table and the admin channel for its whole lifetime.
type Gateway struct {
	messages MessageStore
	rooms    RoomRegistry
	sessions *SessionManager
	admins   *AdminChannel

	limiter   RateLimiter
	publisher EventPublisher
	presence  PresenceTracker

	roomLocks     *services.KeyedMutex
	listMu        sync.Mutex
	historyLimit  int
	roomListLimit int
	logger        zerolog.Logger
}

func NewGateway(messages MessageStore, rooms RoomRegistry, opts Options) *Gateway {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.RoomListLimit <= 0 {
		opts.RoomListLimit = DefaultRoomListLimit
	}
	admins := NewAdminChannel()
	return &Gateway{
		messages:      messages,
		rooms:         rooms,
		sessions:      NewSessionManager(admins, rooms, messages),
		admins:        admins,
		limiter:       opts.Limiter,
		publisher:     opts.Publisher,
		presence:      opts.Presence,
		roomLocks:     services.NewKeyedMutex(),
		historyLimit:  opts.HistoryLimit,
		roomListLimit: opts.RoomListLimit,
		logger:        opts.Logger.With().Str("component", "gateway").Logger(),
	}
}

func (g *Gateway) Sessions() *SessionManager { return g.sessions }
func (g *Gateway) Admins() *AdminChannel     { return g.admins }

// Dispatch decodes one raw frame and runs the matching handler. Every failure is
// reported to conn as a typed error event; the returned error is for logging.
func (g *Gateway) Dispatch(ctx context.Context, conn Conn, raw []byte) error {
	event, err := DecodeInbound(raw)
	if err != nil {
		metrics.EventsReceived.WithLabelValues("invalid").Inc()
		if _, joined := g.sessions.Session(conn.ID()); joined {
			g.reject(conn, EventActionError, "", err)
		} else {
			g.reject(conn, EventJoinError, "", err)
		}
		return err
	}
	metrics.EventsReceived.WithLabelValues(string(event.Name())).Inc()

	switch e := event.(type) {
	case JoinRequest:
		return g.HandleJoin(ctx, conn, e)
	case SendMessageRequest:
		_, err := g.HandleSend(ctx, conn, e)
		return err
	case AdminJoinRoomRequest:
		return g.HandleAdminJoinRoom(ctx, conn, e)
	case TypingRequest:
		return g.HandleTyping(conn, e)
	}
	return ErrUnknownEvent
}

// HandleJoin registers conn under the identity its token established; the join
// payload may only restate that identity. Customers are bound to their (possibly new) room
// and receive its history; admins join the support desk channel.
func (g *Gateway) HandleJoin(ctx context.Context, conn Conn, req JoinRequest) error {
	if _, ok := g.sessions.Session(conn.ID()); ok {
		g.reject(conn, EventJoinError, "", ErrAlreadyJoined)
		return ErrAlreadyJoined
	}

	var identity models.Identity
	if auth, ok := conn.(Authenticated); ok {
		identity, ok = auth.AuthIdentity()
		if !ok {
			identity = models.Identity{}
		}
	}
	if identity.UserID == "" {
		g.reject(conn, EventJoinError, "", ErrUnauthenticated)
		return ErrUnauthenticated
	}
	claimed := req.Identity()
	if (claimed.UserID != "" && claimed.UserID != identity.UserID) ||
		(claimed.Role != "" && claimed.Role != identity.Role) {
		g.reject(conn, EventJoinError, "", ErrIdentityMismatch)
		return ErrIdentityMismatch
	}
	if identity.DisplayName == "" {
		identity.DisplayName = claimed.DisplayName
	}
	if identity.Email == "" {
		identity.Email = claimed.Email
	}
	if err := identity.Normalize(); err != nil {
		g.reject(conn, EventJoinError, "", err)
		return err
	}

	if identity.IsAdmin() {
		return g.joinAdmin(ctx, conn, identity)
	}
	return g.joinCustomer(ctx, conn, identity)
}

func (g *Gateway) joinCustomer(ctx context.Context, conn Conn, identity models.Identity) error {
	room, created, err := g.rooms.ResolveOrCreate(ctx, identity.UserID, identity.DisplayName, identity.Email)
	if err != nil {
		g.reject(conn, EventJoinError, "", err)
		return err
	}
	history, err := g.messages.RecentHistory(ctx, room.ID, g.historyLimit)
	if err != nil {
		g.reject(conn, EventJoinError, room.ID, err)
		return err
	}

	session, err := g.sessions.Register(conn, identity)
	if err != nil {
		g.reject(conn, EventJoinError, room.ID, err)
		return err
	}
	g.sessions.Bind(session, room.ID)

	conn.Send(Outbound{Event: EventJoinSuccess, Data: JoinSuccessPayload{
		UserID: identity.UserID,
		Role:   identity.Role,
		RoomID: room.ID,
	}})
	conn.Send(Outbound{Event: EventRoomHistory, Data: RoomHistoryPayload{RoomID: room.ID, Messages: history}})

	if g.presence != nil {
		if err := g.presence.SetOnline(ctx, identity.UserID, room.ID); err != nil {
			g.logger.Warn().Err(err).Str("customer_id", identity.UserID).Msg("presence update failed")
		}
	}
	g.admins.Publish(Outbound{Event: EventPresenceOnline, Data: PresencePayload{RoomID: room.ID, CustomerID: identity.UserID}})
	g.PublishRoomList(ctx)
	g.emit(EventPresenceOnline, room.ID, identity.UserID, nil)

	g.logger.Debug().
		Str("conn_id", conn.ID()).
		Str("customer_id", identity.UserID).
		Str("room_id", room.ID).
		Bool("room_created", created).
		Msg("customer joined")
	return nil
}

func (g *Gateway) joinAdmin(ctx context.Context, conn Conn, identity models.Identity) error {
	if _, err := g.sessions.Register(conn, identity); err != nil {
		g.reject(conn, EventJoinError, "", err)
		return err
	}
	conn.Send(Outbound{Event: EventJoinSuccess, Data: JoinSuccessPayload{UserID: identity.UserID, Role: identity.Role}})

	rooms, err := g.rooms.ListAll(ctx, services.ListOptions{Limit: g.roomListLimit})
	if err != nil {
		g.logger.Error().Err(err).Msg("load room list for admin join")
	} else {
		conn.Send(Outbound{Event: EventRoomListUpdate, Data: RoomListPayload{Rooms: rooms}})
	}
	g.logger.Debug().Str("conn_id", conn.ID()).Str("admin_id", identity.UserID).Msg("admin joined")
	return nil
}

// HandleSend validates and posts a message from a joined connection. Customers
// may only post to their own room; admins may post to any existing room.
func (g *Gateway) HandleSend(ctx context.Context, conn Conn, req SendMessageRequest) (*models.Message, error) {
	session, ok := g.sessions.Session(conn.ID())
	if !ok {
		g.reject(conn, EventMessageError, req.RoomID, ErrNotJoined)
		return nil, ErrNotJoined
	}
	identity := session.Identity()

	roomID := req.RoomID
	if roomID == "" {
		roomID = session.RoomID()
	}
	if roomID == "" {
		g.reject(conn, EventMessageError, "", services.ErrRoomNotFound)
		return nil, services.ErrRoomNotFound
	}
	if !identity.IsAdmin() && roomID != session.RoomID() {
		g.reject(conn, EventMessageError, roomID, services.ErrAccessDenied)
		return nil, services.ErrAccessDenied
	}
	if strings.TrimSpace(req.Body) == "" {
		g.reject(conn, EventMessageError, roomID, services.ErrEmptyMessage)
		return nil, services.ErrEmptyMessage
	}
	if !g.allow(ctx, identity.UserID) {
		g.reject(conn, EventMessageError, roomID, ErrRateLimited)
		return nil, ErrRateLimited
	}

	msg, err := g.post(ctx, roomID, identity, req.Body, models.MessageTypeText)
	if err != nil {
		g.reject(conn, EventMessageError, roomID, err)
		return nil, err
	}
	return msg, nil
}

// HandleAdminJoinRoom moves an admin to roomID and pushes its history.
func (g *Gateway) HandleAdminJoinRoom(ctx context.Context, conn Conn, req AdminJoinRoomRequest) error {
	session, ok := g.sessions.Session(conn.ID())
	if !ok {
		g.reject(conn, EventActionError, req.RoomID, ErrNotJoined)
		return ErrNotJoined
	}
	// Holding the room lock orders the join against in-flight sends: each one
	// either lands before the acknowledgement or already sees the admin viewing.
	unlock := g.roomLocks.Lock(req.RoomID)
	if err := g.sessions.JoinRoom(ctx, session, req.RoomID); err != nil {
		unlock()
		g.reject(conn, EventActionError, req.RoomID, err)
		return err
	}
	history, err := g.messages.RecentHistory(ctx, req.RoomID, g.historyLimit)
	unlock()
	if err != nil {
		g.reject(conn, EventActionError, req.RoomID, err)
		return err
	}
	conn.Send(Outbound{Event: EventRoomHistory, Data: RoomHistoryPayload{RoomID: req.RoomID, Messages: history}})
	g.PublishRoomList(ctx)
	return nil
}

// HandleTyping relays a typing signal to the other subscribers of the room.
// Signals from connections not subscribed to the room are dropped.
func (g *Gateway) HandleTyping(conn Conn, req TypingRequest) error {
	session, ok := g.sessions.Session(conn.ID())
	if !ok || req.RoomID == "" || session.RoomID() != req.RoomID {
		return ErrNotSubscribed
	}
	event := EventUserStopTyping
	if req.Active {
		event = EventUserTyping
	}
	identity := session.Identity()
	g.fanout(req.RoomID, Outbound{Event: event, Data: TypingPayload{
		RoomID: req.RoomID,
		UserID: identity.UserID,
		Role:   identity.Role,
	}}, conn.ID())
	return nil
}

// HandleDisconnect removes the session for conn. When a customer's last
// connection closes the admin channel is told the customer went offline.
func (g *Gateway) HandleDisconnect(ctx context.Context, conn Conn) {
	session, last := g.sessions.Unregister(conn.ID())
	if session == nil {
		return
	}
	identity := session.Identity()
	if identity.IsAdmin() || !last {
		return
	}
	roomID := session.RoomID()
	if g.presence != nil {
		if err := g.presence.SetOffline(ctx, identity.UserID); err != nil {
			g.logger.Warn().Err(err).Str("customer_id", identity.UserID).Msg("presence update failed")
		}
	}
	g.admins.Publish(Outbound{Event: EventPresenceOffline, Data: PresencePayload{RoomID: roomID, CustomerID: identity.UserID}})
	g.emit(EventPresenceOffline, roomID, identity.UserID, nil)
}

// Post runs the send pipeline for callers outside a websocket, such as the HTTP
// fallback. The caller's identity must be an admin or the room's customer.
func (g *Gateway) Post(ctx context.Context, sender models.Identity, roomID, body string) (*models.Message, error) {
	if err := sender.Normalize(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, services.ErrEmptyMessage
	}
	if !sender.IsAdmin() {
		room, err := g.rooms.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.CustomerID != sender.UserID {
			return nil, services.ErrAccessDenied
		}
	}
	if !g.allow(ctx, sender.UserID) {
		return nil, ErrRateLimited
	}
	return g.post(ctx, roomID, sender, body, models.MessageTypeText)
}

// PostNotice appends a system message to the customer's room, creating the room
// when the customer has none.
func (g *Gateway) PostNotice(ctx context.Context, customerID, body string) (*models.Message, error) {
	room, _, err := g.rooms.ResolveOrCreate(ctx, customerID, "", "")
	if err != nil {
		return nil, err
	}
	system := models.Identity{UserID: SystemSenderID, Role: models.RoleAdmin, DisplayName: "VipStore"}
	return g.post(ctx, room.ID, system, body, models.MessageTypeSystem)
}

// AcknowledgeRoom is the read acknowledgement of an admin that is not joined
// over a websocket.
func (g *Gateway) AcknowledgeRoom(ctx context.Context, roomID string) error {
	unlock := g.roomLocks.Lock(roomID)
	if _, err := g.rooms.Get(ctx, roomID); err != nil {
		unlock()
		return err
	}
	err := g.sessions.Acknowledge(ctx, roomID)
	unlock()
	if err != nil {
		return err
	}
	g.PublishRoomList(ctx)
	return nil
}

func (g *Gateway) SetRoomStatus(ctx context.Context, roomID string, status models.RoomStatus) (*models.Room, error) {
	room, err := g.rooms.SetStatus(ctx, roomID, status)
	if err != nil {
		return nil, err
	}
	g.PublishRoomList(ctx)
	return room, nil
}

// DeleteRoom deletes the room with its messages. Customers connected to it are
// disconnected so their next join starts a fresh room; admins are unbound.
func (g *Gateway) DeleteRoom(ctx context.Context, roomID string) error {
	unlock := g.roomLocks.Lock(roomID)
	err := g.rooms.Delete(ctx, roomID)
	unlock()
	if err != nil {
		return err
	}
	for _, s := range g.sessions.DetachRoom(roomID) {
		if !s.Identity().IsAdmin() {
			s.Conn().Close()
		}
	}
	g.PublishRoomList(ctx)
	return nil
}

// PublishRoomList sends the current room snapshot to every admin. Reading and
// publishing happen under one lock so admins receive snapshots in commit order.
func (g *Gateway) PublishRoomList(ctx context.Context) {
	if g.admins.Size() == 0 {
		return
	}
	g.listMu.Lock()
	defer g.listMu.Unlock()

	rooms, err := g.rooms.ListAll(ctx, services.ListOptions{Limit: g.roomListLimit})
	if err != nil {
		g.logger.Error().Err(err).Msg("load room list")
		return
	}
	g.admins.Publish(Outbound{Event: EventRoomListUpdate, Data: RoomListPayload{Rooms: rooms}})
	metrics.RoomListPublishes.Inc()
}

// Shutdown closes every live connection. Transport cleanup then runs
// HandleDisconnect for each of them.
func (g *Gateway) Shutdown() {
	for _, s := range g.sessions.All() {
		s.Conn().Close()
	}
}

// post persists, updates room metadata and fans out, serialized per room so
// that persistence order and delivery order both follow arrival order.
func (g *Gateway) post(ctx context.Context, roomID string, sender models.Identity, body string, msgType models.MessageType) (*models.Message, error) {
	unlock := g.roomLocks.Lock(roomID)
	room, err := g.rooms.Get(ctx, roomID)
	if err != nil {
		unlock()
		return nil, err
	}

	viewed := g.sessions.AdminViewing(roomID)
	msg, err := g.messages.Append(ctx, services.AppendInput{
		RoomID:     roomID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		Role:       sender.Role,
		Body:       body,
		Type:       msgType,
		Read:       sender.Role == models.RoleCustomer && viewed,
	})
	if err != nil {
		unlock()
		return nil, err
	}
	metrics.MessagesPersisted.WithLabelValues(string(sender.Role)).Inc()

	if _, err := g.rooms.TouchOnMessage(ctx, roomID, msg.Body, sender.Role, viewed); err != nil {
		g.logger.Error().Err(err).Str("room_id", roomID).Str("message_id", msg.ID).Msg("update room metadata")
	}
	g.fanout(roomID, Outbound{Event: EventNewMessage, Data: msg}, "")
	unlock()

	g.PublishRoomList(ctx)
	g.emit(EventNewMessage, roomID, room.CustomerID, msg)
	return msg, nil
}

func (g *Gateway) fanout(roomID string, evt Outbound, exceptConnID string) {
	for _, s := range g.sessions.Subscribers(roomID) {
		if s.Conn().ID() == exceptConnID {
			continue
		}
		if !deliver(s.Conn(), evt) {
			g.logger.Debug().Str("conn_id", s.Conn().ID()).Str("room_id", roomID).Msg("event not delivered")
		}
	}
}

func (g *Gateway) allow(ctx context.Context, userID string) bool {
	if g.limiter == nil {
		return true
	}
	ok, err := g.limiter.Allow(ctx, userID)
	if err != nil {
		g.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing send")
		return true
	}
	if !ok {
		metrics.RateLimitHits.WithLabelValues("chat_send").Inc()
	}
	return ok
}

func (g *Gateway) emit(event EventName, roomID, customerID string, msg *models.Message) {
	if g.publisher == nil {
		return
	}
	g.publisher.Publish(ActivityEvent{
		Type:       event,
		RoomID:     roomID,
		CustomerID: customerID,
		Message:    msg,
		At:         time.Now().UTC(),
	})
}

// reject sends a typed error event to conn. Internal errors are logged and
// replaced by a generic text.
func (g *Gateway) reject(conn Conn, event EventName, roomID string, err error) {
	text, known := clientMessage(err)
	if !known && !errors.Is(err, context.Canceled) {
		g.logger.Error().Err(err).Str("conn_id", conn.ID()).Str("event", string(event)).Msg("chat operation failed")
	}
	metrics.EventErrors.WithLabelValues(string(event)).Inc()
	conn.Send(Outbound{Event: event, Data: ErrorPayload{Message: text, RoomID: roomID}})
}
