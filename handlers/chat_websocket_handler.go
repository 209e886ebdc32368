package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/chat"
	"github.com/6587027/VipStore-sub001/metrics"
	"github.com/6587027/VipStore-sub001/middleware"
	"github.com/6587027/VipStore-sub001/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 16 * 1024
)

// WebSocketConfig tunes the chat transport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	EventTimeout     time.Duration
	SendQueueSize    int
	AllowedOrigins   []string
}

// ChatClient is one websocket connection. It satisfies chat.Conn.
type ChatClient struct {
	id       string
	conn     *websocket.Conn
	identity models.Identity
	authed   bool
	send     chan chat.Outbound
	ctx      context.Context
	cancel   context.CancelFunc
}

func (c *ChatClient) ID() string { return c.id }

func (c *ChatClient) Send(evt chat.Outbound) error {
	if c.ctx.Err() != nil {
		return chat.ErrConnClosed
	}
	select {
	case c.send <- evt:
		return nil
	default:
		return chat.ErrSendQueueFull
	}
}

func (c *ChatClient) Close() { c.cancel() }

func (c *ChatClient) AuthIdentity() (models.Identity, bool) {
	return c.identity, c.authed
}

type ChatWebSocketHandler struct {
	gateway  *chat.Gateway
	upgrader websocket.Upgrader
	cfg      WebSocketConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[string]*ChatClient
	wg      sync.WaitGroup
}

func NewChatWebSocketHandler(gateway *chat.Gateway, cfg WebSocketConfig, logger zerolog.Logger) *ChatWebSocketHandler {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = 5 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	h := &ChatWebSocketHandler{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With().Str("component", "ws").Logger(),
		clients: make(map[string]*ChatClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *ChatWebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
// The route is authenticated; the token's identity is the one the join event must carry.
func (h *ChatWebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &ChatClient{
		id:     uuid.New().String(),
		conn:   ws,
		send:   make(chan chat.Outbound, h.cfg.SendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	client.identity, client.authed = middleware.CurrentIdentity(c)

	h.track(client)
	go h.writePump(client)
	h.readPump(client)
	return nil
}

func (h *ChatWebSocketHandler) track(client *ChatClient) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.wg.Add(1)
	metrics.ConnectionsActive.Inc()
}

func (h *ChatWebSocketHandler) untrack(client *ChatClient) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	metrics.ConnectionsActive.Dec()
	h.wg.Done()
}

// readPump processes one event at a time. Until the connection has joined, the
// read deadline is the handshake deadline; afterwards pongs keep it alive.
func (h *ChatWebSocketHandler) readPump(client *ChatClient) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EventTimeout)
		h.gateway.HandleDisconnect(ctx, client)
		cancel()
		client.Close()
		client.conn.Close()
		h.untrack(client)
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout))

	joined := false
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Str("conn_id", client.id).Msg("websocket read failed")
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.EventTimeout)
		if err := h.gateway.Dispatch(ctx, client, raw); err != nil {
			h.logger.Debug().Err(err).Str("conn_id", client.id).Msg("event rejected")
		}
		cancel()

		if !joined {
			if _, ok := h.gateway.Sessions().Session(client.id); ok {
				joined = true
				client.conn.SetReadDeadline(time.Now().Add(pongWait))
				client.conn.SetPongHandler(func(string) error {
					client.conn.SetReadDeadline(time.Now().Add(pongWait))
					return nil
				})
			}
		} else {
			client.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

func (h *ChatWebSocketHandler) writePump(client *ChatClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case <-client.ctx.Done():
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(message); err != nil {
				h.logger.Debug().Err(err).Str("conn_id", client.id).Msg("websocket write failed")
				client.Close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}

// Shutdown closes every connection, joined or not, and waits for their
// cleanup to finish or for ctx to expire.
func (h *ChatWebSocketHandler) Shutdown(ctx context.Context) error {
	h.gateway.Shutdown()
	h.mu.Lock()
	for _, client := range h.clients {
		client.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections is the number of open websocket connections.
func (h *ChatWebSocketHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
