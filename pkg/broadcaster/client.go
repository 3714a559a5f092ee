package broadcaster

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is one websocket subscriber of a wallet
type Client struct {
	id       string
	walletID string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	// backlog holds the queued messages flushed on connect
	backlog [][]byte
	logger  *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, walletID string, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		walletID: walletID,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.cfg.SendBuffer),
		logger:   logger.With(zap.String("client_id", id), zap.String("wallet_id", walletID)),
	}
}

// readPump reads client frames until the connection fails and then
// unregisters the client
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// writePump writes the backlog, then live messages and pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, message := range c.backlog {
		if err := c.write(message); err != nil {
			c.logger.Debug("failed to flush queued message", zap.Error(err))
			return
		}
	}
	c.backlog = nil

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// The hub closed the channel
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(message); err != nil {
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

func (c *Client) write(message []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// handleMessage handles a frame from the client. Only heartbeats are
// expected; anything else is ignored.
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("ignoring malformed client message", zap.Error(err))
		return
	}
	if msg.Type == TypePing {
		c.hub.pong(c)
	}
}
