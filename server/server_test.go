package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/6587027/VipStore-sub001/chat"
	"github.com/6587027/VipStore-sub001/config"
	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/services"
)

var dbSeq atomic.Int64

type testEnv struct {
	server *Server
	http   *httptest.Server
	tokens *services.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Database.Driver = models.DriverSQLite
	cfg.Database.DSN = fmt.Sprintf("file:server_%d?mode=memory&cache=shared", dbSeq.Add(1))
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Redis.Addr = mr.Addr()
	cfg.Chat.HandshakeTimeout = config.Duration{Duration: 300 * time.Millisecond}

	s, err := NewServer(&cfg, zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Echo)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
		ts.Close()
	})
	return &testEnv{
		server: s,
		http:   ts,
		tokens: services.NewTokenService(cfg.Auth.JWTSecret, time.Hour),
	}
}

func (e *testEnv) token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	token, err := e.tokens.IssueToken(models.Identity{UserID: userID, Role: role, DisplayName: userID})
	require.NoError(t, err)
	return token
}

func (e *testEnv) call(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestRoomEndpoints(t *testing.T) {
	env := newTestEnv(t)
	customer := env.token(t, "cust-1", models.RoleCustomer)
	other := env.token(t, "cust-2", models.RoleCustomer)
	admin := env.token(t, "admin-1", models.RoleAdmin)

	status, _ := env.call(t, http.MethodPost, "/api/v1/chat/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, raw := env.call(t, http.MethodPost, "/api/v1/chat/rooms", customer, nil)
	require.Equal(t, http.StatusCreated, status, string(raw))
	room := decode[models.Room](t, raw)
	assert.Equal(t, models.RoomStatusActive, room.Status)

	status, raw = env.call(t, http.MethodPost, "/api/v1/chat/rooms", customer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, room.ID, decode[models.Room](t, raw).ID)

	status, _ = env.call(t, http.MethodPost, "/api/v1/chat/rooms", admin, nil)
	assert.Equal(t, http.StatusForbidden, status)

	roomPath := "/api/v1/chat/rooms/" + room.ID
	status, raw = env.call(t, http.MethodPost, roomPath+"/messages", customer, map[string]string{"body": "Hello"})
	require.Equal(t, http.StatusCreated, status, string(raw))
	assert.Equal(t, "Hello", decode[models.Message](t, raw).Body)

	status, _ = env.call(t, http.MethodPost, roomPath+"/messages", customer, map[string]string{"body": "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.call(t, http.MethodPost, roomPath+"/messages", other, map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.call(t, http.MethodGet, roomPath, other, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.call(t, http.MethodGet, "/api/v1/chat/rooms/missing", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.call(t, http.MethodGet, "/api/v1/chat/rooms", customer, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, raw = env.call(t, http.MethodGet, "/api/v1/chat/rooms?status=active", admin, nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[struct {
		Rooms []models.Room `json:"rooms"`
		Total int           `json:"total"`
	}](t, raw)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.Rooms[0].UnreadCount)
	assert.Equal(t, "Hello", list.Rooms[0].LastMessage)
	status, _ = env.call(t, http.MethodGet, "/api/v1/chat/rooms?status=archived", admin, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.call(t, http.MethodPost, roomPath+"/read", admin, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, raw = env.call(t, http.MethodGet, roomPath, customer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decode[models.Room](t, raw).UnreadCount)

	status, raw = env.call(t, http.MethodGet, roomPath+"/messages?limit=10", customer, nil)
	require.Equal(t, http.StatusOK, status)
	page := decode[services.HistoryPage](t, raw)
	assert.False(t, page.HasMore)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Read)
	status, _ = env.call(t, http.MethodGet, roomPath+"/messages?before=yesterday", customer, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw = env.call(t, http.MethodPut, roomPath+"/status", admin, map[string]string{"status": "closed"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RoomStatusClosed, decode[models.Room](t, raw).Status)
	status, _ = env.call(t, http.MethodPut, roomPath+"/status", admin, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, raw = env.call(t, http.MethodGet, "/api/v1/chat/presence", admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"count":0`)

	status, _ = env.call(t, http.MethodDelete, roomPath, admin, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.call(t, http.MethodDelete, roomPath, admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t)
	status, raw := env.call(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"status":"ok"`)

	status, raw = env.call(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status, string(raw))
	assert.Contains(t, string(raw), `"redis":"up"`)

	status, raw = env.call(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "vipstore_chat_http_requests_total")
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) wsURL(token string) string {
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/v1/chat/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func (e *testEnv) dial(t *testing.T, token string) *wsClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event chat.EventName, data interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(chat.Envelope{Event: event, Data: raw}))
}

// expect reads frames until one named event arrives and decodes its data into out.
func (c *wsClient) expect(event chat.EventName, out interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var env chat.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

func TestWebSocketConversation(t *testing.T) {
	env := newTestEnv(t)

	customer := env.dial(t, env.token(t, "cust-1", models.RoleCustomer))
	customer.send(chat.EventJoin, map[string]string{})
	var joined chat.JoinSuccessPayload
	customer.expect(chat.EventJoinSuccess, &joined)
	require.NotEmpty(t, joined.RoomID)
	assert.Equal(t, "cust-1", joined.UserID)
	customer.expect(chat.EventRoomHistory, nil)

	admin := env.dial(t, env.token(t, "admin-1", models.RoleAdmin))
	admin.send(chat.EventJoin, map[string]string{})
	admin.expect(chat.EventJoinSuccess, nil)
	var list chat.RoomListPayload
	admin.expect(chat.EventRoomListUpdate, &list)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, joined.RoomID, list.Rooms[0].ID)

	admin.send(chat.EventAdminJoinRoom, chat.AdminJoinRoomRequest{RoomID: joined.RoomID})
	admin.expect(chat.EventRoomHistory, nil)

	customer.send(chat.EventSendMessage, chat.SendMessageRequest{Body: "Hello"})
	var msg models.Message
	admin.expect(chat.EventNewMessage, &msg)
	assert.Equal(t, "Hello", msg.Body)
	assert.Equal(t, "cust-1", msg.SenderName)
	assert.True(t, msg.Read)

	customer.send(chat.EventTypingStart, chat.TypingRequest{RoomID: joined.RoomID})
	var typing chat.TypingPayload
	admin.expect(chat.EventUserTyping, &typing)
	assert.Equal(t, "cust-1", typing.UserID)

	admin.send(chat.EventSendMessage, chat.SendMessageRequest{RoomID: joined.RoomID, Body: "Hi, how can I help?"})
	customer.expect(chat.EventNewMessage, &msg)
	assert.Equal(t, models.RoleAdmin, msg.SenderRole)

	customer.send(chat.EventSendMessage, chat.SendMessageRequest{Body: ""})
	var rejection chat.ErrorPayload
	customer.expect(chat.EventMessageError, &rejection)
	assert.Equal(t, "message body must not be empty", rejection.Message)

	require.NoError(t, customer.conn.Close())
	var offline chat.PresencePayload
	admin.expect(chat.EventPresenceOffline, &offline)
	assert.Equal(t, joined.RoomID, offline.RoomID)
	assert.Equal(t, "cust-1", offline.CustomerID)
}

func TestWebSocketRejectsSpoofedJoin(t *testing.T) {
	env := newTestEnv(t)
	client := env.dial(t, env.token(t, "cust-1", models.RoleCustomer))
	client.send(chat.EventJoin, map[string]string{"user_id": "admin-1", "role": "admin"})
	var rejection chat.ErrorPayload
	client.expect(chat.EventJoinError, &rejection)
	assert.Contains(t, rejection.Message, "does not match")
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	customer := env.dial(t, env.token(t, "cust-1", models.RoleCustomer))
	customer.send(chat.EventJoin, map[string]string{})
	customer.expect(chat.EventJoinSuccess, nil)
	customer.send(chat.EventSendMessage, chat.SendMessageRequest{Body: "my card number is 4111"})
	customer.expect(chat.EventNewMessage, nil)

	for name, token := range map[string]string{"missing": "", "forged": "not-a-jwt"} {
		t.Run(name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(token), nil)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	status, _ := env.call(t, http.MethodGet, "/api/v1/chat/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 0, env.server.Gateway.Admins().Size())
}

func TestWebSocketHandshakeTimeout(t *testing.T) {
	env := newTestEnv(t)
	client := env.dial(t, env.token(t, "cust-1", models.RoleCustomer))
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	_, _, err := client.conn.ReadMessage()
	require.Error(t, err)
	if netErr, ok := err.(net.Error); ok {
		assert.False(t, netErr.Timeout(), "server closed the connection before the client deadline")
	}
}
