package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/exchange"
)

const writeWait = 5 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub keeps each user's open websockets and pushes their trades to them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[int]map[*wsClient]struct{}
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(logger *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger.Named("hub"),
		clients:  make(map[int]map[*wsClient]struct{}),
	}
}

// Serve upgrades the request and registers the socket for userID. It
// returns once the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.add(userID, client)
	defer h.remove(userID, client)

	// Clients never send anything meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(userID int, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*wsClient]struct{})
	}
	h.clients[userID][c] = struct{}{}
}

func (h *Hub) remove(userID int, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.conn.Close()
		}
		if len(set) == 0 {
			delete(h.clients, userID)
		}
	}
}

// Clients returns how many sockets userID has open.
func (h *Hub) Clients(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// TradeExecuted pushes the trade to every socket of userID. Sockets that
// fail to take the write are dropped.
func (h *Hub) TradeExecuted(ctx context.Context, userID int, result exchange.TradeResult) error {
	data, err := json.Marshal(newTradeEvent(userID, result))
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.logger.Debug("dropping websocket client", zap.Int("user_id", userID), zap.Error(err))
			h.remove(userID, c)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, set := range h.clients {
		for c := range set {
			c.conn.Close()
		}
		delete(h.clients, userID)
	}
}
