package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/infrastructure/notifier"
	"escrow-pay.backend/internal/interfaces/http/middleware"
	"escrow-pay.backend/internal/interfaces/http/response"
	"escrow-pay.backend/pkg/jwt"
	"escrow-pay.backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Source is where status notifications come from.
type Source interface {
	Subscribe(buffer int) (<-chan notifier.Message, func())
}

// Envelope is what clients receive.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ClientMessage lets a connected client change its subscriptions.
type ClientMessage struct {
	Action    string `json:"action"`
	PaymentID string `json:"paymentId"`
}

type client struct {
	id       string
	wallet   string
	admin    bool
	conn     *websocket.Conn
	send     chan []byte
	mu       sync.RWMutex
	payments map[uuid.UUID]struct{}
}

func (c *client) wants(paymentID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.admin && len(c.payments) == 0 {
		return true
	}
	_, ok := c.payments[paymentID]
	return ok
}

func (c *client) watch(paymentID uuid.UUID, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.payments[paymentID] = struct{}{}
		return
	}
	delete(c.payments, paymentID)
}

// Hub pushes payment status changes to websocket clients. Clients watch
// individual payments; admins without a filter see every change.
type Hub struct {
	source   Source
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(source Source, allowedOrigins []string) *Hub {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Hub{
		source:  source,
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// Run dispatches notifications until ctx is done or the source closes.
func (h *Hub) Run(ctx context.Context) {
	msgs, cancel := h.source.Subscribe(256)
	defer cancel()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.dispatch(ctx, msg)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, msg notifier.Message) {
	if msg.Topic != entities.StatusChangedTopic {
		return
	}
	var ev entities.StatusChangedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logger.Warn(ctx, "dropping undecodable notification", zap.Error(err))
		return
	}
	frame, err := json.Marshal(Envelope{Type: msg.Topic, Data: msg.Payload})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wants(ev.PaymentID) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			logger.Warn(ctx, "websocket client too slow, dropping update",
				zap.String("client_id", c.id),
				zap.String("payment_id", ev.PaymentID.String()),
			)
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an authenticated request. Each paymentId query value is
// watched from the start; non-admins must name at least one.
// GET /ws/payments
func (h *Hub) ServeWS(c *gin.Context) {
	wallet, ok := middleware.GetWallet(c)
	if !ok {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	role, _ := middleware.GetRole(c)

	payments := make(map[uuid.UUID]struct{})
	for _, raw := range c.QueryArray("paymentId") {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "Invalid payment ID")
			return
		}
		payments[id] = struct{}{}
	}
	admin := role == jwt.RoleAdmin
	if !admin && len(payments) == 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "paymentId is required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:       uuid.NewString(),
		wallet:   wallet,
		admin:    admin,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		payments: payments,
	}
	h.register(cl)
	logger.Info(c.Request.Context(), "websocket client connected",
		zap.String("client_id", cl.id),
		zap.String("wallet", wallet),
		zap.Int("watching", len(payments)),
	)

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// readPump handles subscription changes and keeps the read deadline fresh.
// It owns the connection's lifetime.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(context.Background(), "websocket closed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		id, err := uuid.Parse(msg.PaymentID)
		if err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.watch(id, true)
		case "unsubscribe":
			c.watch(id, false)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
