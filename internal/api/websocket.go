package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the REST layer already enforces auth; the token rides the query
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// Hub fans bus events out to connected operator sockets. Events with
// a user id go only to that user's sockets; global events (price
// updates) go to everyone. Slow clients drop messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	logger  zerolog.Logger
}

// NewHub subscribes to the bus and returns the running hub.
func NewHub(bus *events.Bus, logger zerolog.Logger) *Hub {
	h := &Hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger.With().Str("component", "ws-hub").Logger(),
	}
	bus.SubscribeAll(h.fanout)
	return h
}

func (h *Hub) fanout(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("event not serializable")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if ev.UserID != "" && ev.UserID != client.userID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// drop for this client rather than stall the bus
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount reports the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket authenticates via the token query parameter and
// attaches the socket to the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	token := c.Query("token")
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		userID: claims.UserID,
	}
	s.hub.register(client)

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is one-directional.
// It exists to observe the close handshake.
func (s *Server) readPump(client *wsClient) {
	defer s.hub.unregister(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
