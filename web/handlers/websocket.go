package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/docmem/pkg/types"
)

// sendBuffer is the per-client queue length. A client that falls this far
// behind is disconnected.
const sendBuffer = 256

// WebSocketHub fans mutation events out to stream subscribers. Each
// subscriber sees only the events of its own tenant, narrowed to one user
// when it names one.
type WebSocketHub struct {
	clients    map[clientInterface]bool
	broadcast  chan types.MutationEvent
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc

	originPatterns []string
	logger         *slog.Logger
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	subscription() (tenantID, userID string)
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub      *WebSocketHub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
	userID   string
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) subscription() (string, string) {
	return c.tenantID, c.userID
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewWebSocketHub creates a new WebSocket hub. originPatterns lists the
// host patterns allowed to open a stream from a browser; requests without
// an Origin header are always accepted.
func NewWebSocketHub(logger *slog.Logger, originPatterns ...string) *WebSocketHub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		clients:        make(map[clientInterface]bool),
		broadcast:      make(chan types.MutationEvent, sendBuffer),
		register:       make(chan clientInterface),
		unregister:     make(chan clientInterface),
		ctx:            ctx,
		cancel:         cancel,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// Run starts the hub's message processing loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client disconnected", "clients", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshal stream event", "type", event.Type, "error", err)
				continue
			}

			// Full lock: slow clients are removed in the loop.
			h.mu.Lock()
			for client := range h.clients {
				tenantID, userID := client.subscription()
				if tenantID != event.TenantID || (userID != "" && userID != event.UserID) {
					continue
				}
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					close(sendChan)
					delete(h.clients, client)
					h.logger.Warn("stream client too slow, disconnected", "tenant_id", tenantID)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.logger.Debug("stream hub stopping")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for delivery. It never blocks: when the queue
// is full the event is dropped.
func (h *WebSocketHub) Broadcast(event types.MutationEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("stream queue full, dropping event", "type", event.Type)
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client clientInterface) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ServeHTTP handles GET /v1/stream. Browsers cannot set custom headers on
// a WebSocket handshake, so the scope may also come from the tenant_id and
// user_id query parameters.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(HeaderTenantID)
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if !types.ValidSegment(tenantID) || (userID != "" && !types.ValidSegment(userID)) {
		respondError(w, r, h.logger, types.Invalid(types.CodeInvalidKey, "stream requires a valid tenant id"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the response.
		h.logger.Warn("stream upgrade failed", "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		tenantID: tenantID,
		userID:   userID,
	}
	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()

		if err != nil {
			c.hub.logger.Debug("stream write failed", "error", err)
			return
		}
	}
}

// readPump drains the connection to notice disconnects. The stream is
// one-way.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(c.hub.ctx); err != nil {
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
	TenantID string
	UserID   string
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) subscription() (string, string) {
	return m.TenantID, m.UserID
}

func (m *MockClient) close() {}
