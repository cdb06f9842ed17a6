package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aquaguard/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var ErrNotConnected = errors.New("recipient has no open websocket")

// Hub tracks websocket clients per recipient id and pushes notifications to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	buffer   int
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Client is one websocket connection owned by a recipient.
type Client struct {
	hub         *Hub
	recipientID string
	conn        *websocket.Conn
	send        chan []byte
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		buffer:  buffer,
		logger:  logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and registers the connection under the "recipient" query value.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	recipientID := r.URL.Query().Get("recipient")
	if recipientID == "" {
		http.Error(w, "recipient query parameter required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "recipient_id", recipientID, "err", err)
		return
	}
	client := &Client{hub: h, recipientID: recipientID, conn: conn, send: make(chan []byte, h.buffer)}
	h.register(client)
	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.recipientID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.recipientID] = set
	}
	set[c] = struct{}{}
	h.logger.Info("websocket client registered", "recipient_id", c.recipientID, "remote", c.conn.RemoteAddr().String())
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.recipientID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.recipientID)
	}
}

func (h *Hub) Connected(recipientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[recipientID])
}

type pushMessage struct {
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"bodyHtml"`
}

// Send delivers to every open connection of the recipient. Clients whose buffer is full
// are dropped.
func (h *Hub) Send(_ context.Context, contact, subject, bodyHTML string) error {
	msg, err := json.Marshal(pushMessage{Type: "alert", Subject: subject, BodyHTML: bodyHTML})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[contact]
	delivered := 0
	for c := range set {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warn("websocket send buffer full, removing client", "recipient_id", contact)
			h.removeLocked(c)
		}
	}
	if delivered == 0 {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		// clients only listen; anything they send is discarded
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "recipient_id", c.recipientID, "err", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "recipient_id", c.recipientID, "err", err)
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
