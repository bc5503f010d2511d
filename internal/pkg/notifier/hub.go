package notifier

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/vreid/kessen/internal/pkg/ledger"
	"go.uber.org/zap"
)

const (
	clientBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Hub broadcasts ledger events to every connected leaderboard observer.
// A client whose buffer is full misses the message instead of stalling the
// others.
type Hub struct {
	Clients map[string]*Client
	Logger  *zap.Logger

	// AllowedOrigins limits browser origins that may connect. Empty allows any.
	AllowedOrigins []string

	upgrader websocket.Upgrader
	mu       sync.Mutex
}

func NewHub(logger *zap.Logger, allowedOrigins ...string) *Hub {
	//nolint:exhaustruct
	hub := &Hub{
		Clients: make(map[string]*Client),
		Logger:  logger,

		AllowedOrigins: allowedOrigins,
	}

	//nolint:exhaustruct
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.CheckOrigin,
	}

	return hub
}

// CheckOrigin accepts requests without an Origin header, which come from
// non-browser clients.
func (h *Hub) CheckOrigin(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if len(origin) == 0 {
		return true
	}

	return slices.Contains(h.AllowedOrigins, origin)
}

func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Clients[c.ID] = c
	h.Logger.Debug("observer connected", zap.String("client", c.ID))
}

func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.Clients[c.ID]; !exists {
		return
	}

	delete(h.Clients, c.ID)
	close(c.Send)
	h.Logger.Debug("observer disconnected", zap.String("client", c.ID))
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.Clients)
}

// Broadcast returns the number of clients the message was queued for.
func (h *Hub) Broadcast(message []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0

	for _, client := range h.Clients {
		select {
		case client.Send <- message:
			delivered++
		default:
			h.Logger.Warn("observer buffer full, dropping message", zap.String("client", client.ID))
		}
	}

	return delivered
}

func (h *Hub) Notify(_ context.Context, event ledger.Event) error {
	message, err := Encode(event)
	if err != nil {
		return err
	}

	h.Broadcast(message)

	return nil
}

func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", zap.Error(err))

		return nil
	}

	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, clientBuffer),
	}

	h.AddClient(client)

	go h.read(client)
	go h.write(client)

	return nil
}

// read only watches for the connection closing and answers pongs; observers
// don't send.
func (h *Hub) read(c *Client) {
	defer func() {
		h.RemoveClient(c)
		_ = c.Conn.Close()
	}()

	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
	}
}

func (h *Hub) write(c *Client) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

				return
			}

			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				h.Logger.Debug("websocket write failed", zap.String("client", c.ID), zap.Error(err))

				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))

			err := c.Conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				h.Logger.Debug("websocket ping failed", zap.String("client", c.ID), zap.Error(err))

				return
			}
		}
	}
}
