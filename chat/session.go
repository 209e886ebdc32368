package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/6587027/VipStore-sub001/models"
)

// Conn is one live client connection as seen by the gateway.
type Conn interface {
	ID() string
	// Send queues evt without blocking. It returns ErrSendQueueFull when the
	// client is not keeping up and ErrConnClosed after Close.
	Send(evt Outbound) error
	Close()
}

// Authenticated is implemented by connections whose identity was already
// established by a verified token at upgrade time.
type Authenticated interface {
	AuthIdentity() (models.Identity, bool)
}

// Session binds a connection to an identity and to at most one room.
type Session struct {
	conn     Conn
	identity models.Identity
	joinedAt time.Time

	mu     sync.RWMutex
	roomID string
}

func (s *Session) Conn() Conn                { return s.conn }
func (s *Session) Identity() models.Identity { return s.identity }
func (s *Session) JoinedAt() time.Time       { return s.joinedAt }

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

// SessionManager owns the session table and the room subscription index.
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	rooms     map[string]map[string]*Session
	customers map[string]int

	admins   *AdminChannel
	registry RoomRegistry
	messages MessageStore
}

func NewSessionManager(admins *AdminChannel, registry RoomRegistry, messages MessageStore) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]map[string]*Session),
		customers: make(map[string]int),
		admins:    admins,
		registry:  registry,
		messages:  messages,
	}
}

// Register binds identity to conn. Admin sessions are subscribed to the admin
// channel; customer sessions get their room through Bind.
func (m *SessionManager) Register(conn Conn, identity models.Identity) (*Session, error) {
	if err := identity.Normalize(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.sessions[conn.ID()]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	session := &Session{conn: conn, identity: identity, joinedAt: time.Now()}
	m.sessions[conn.ID()] = session
	if !identity.IsAdmin() {
		m.customers[identity.UserID]++
	}
	m.mu.Unlock()

	if identity.IsAdmin() {
		m.admins.Subscribe(conn)
	}
	return session, nil
}

// Bind subscribes a customer session to its own room for the rest of its life.
func (m *SessionManager) Bind(session *Session, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeLocked(session, roomID)
}

// JoinRoom moves an admin session to roomID, leaving any previous room, and
// acknowledges the customer's unread messages.
func (m *SessionManager) JoinRoom(ctx context.Context, session *Session, roomID string) error {
	if !session.identity.IsAdmin() {
		return ErrNotAdmin
	}
	if _, err := m.registry.Get(ctx, roomID); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.sessions[session.conn.ID()]; !ok {
		m.mu.Unlock()
		return ErrNotJoined
	}
	m.subscribeLocked(session, roomID)
	m.mu.Unlock()

	return m.Acknowledge(ctx, roomID)
}

// Acknowledge resets the room's unread counter and marks its customer messages read.
func (m *SessionManager) Acknowledge(ctx context.Context, roomID string) error {
	if err := m.registry.ResetUnread(ctx, roomID); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	if _, err := m.messages.MarkRead(ctx, roomID, models.RoleCustomer); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Unregister removes the session for connID. last reports whether it was the
// customer's final open session.
func (m *SessionManager) Unregister(connID string) (session *Session, last bool) {
	m.mu.Lock()
	session, ok := m.sessions[connID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.sessions, connID)
	m.unsubscribeLocked(session)
	if !session.identity.IsAdmin() {
		uid := session.identity.UserID
		m.customers[uid]--
		if m.customers[uid] <= 0 {
			delete(m.customers, uid)
			last = true
		}
	}
	m.mu.Unlock()

	if session.identity.IsAdmin() {
		m.admins.Unsubscribe(connID)
	}
	return session, last
}

// DetachRoom drops every subscription to roomID and returns the sessions that held one.
func (m *SessionManager) DetachRoom(roomID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.rooms[roomID]
	delete(m.rooms, roomID)
	detached := make([]*Session, 0, len(members))
	for _, s := range members {
		s.setRoom("")
		detached = append(detached, s)
	}
	return detached
}

func (m *SessionManager) Session(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// Subscribers returns a snapshot of the sessions subscribed to roomID.
func (m *SessionManager) Subscribers(roomID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[roomID]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

// AdminViewing reports whether any admin session is subscribed to roomID.
func (m *SessionManager) AdminViewing(roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.rooms[roomID] {
		if s.identity.IsAdmin() {
			return true
		}
	}
	return false
}

func (m *SessionManager) CustomerOnline(customerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customers[customerID] > 0
}

func (m *SessionManager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) subscribeLocked(session *Session, roomID string) {
	m.unsubscribeLocked(session)
	members, ok := m.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		m.rooms[roomID] = members
	}
	members[session.conn.ID()] = session
	session.setRoom(roomID)
}

func (m *SessionManager) unsubscribeLocked(session *Session) {
	prev := session.RoomID()
	if prev == "" {
		return
	}
	if members, ok := m.rooms[prev]; ok {
		delete(members, session.conn.ID())
		if len(members) == 0 {
			delete(m.rooms, prev)
		}
	}
	session.setRoom("")
}
