package signaling

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 64 KB covers SDP payloads.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. A client that falls this far
	// behind starts losing envelopes (best-effort delivery).
	sendBuffer = 256
)

// Client wraps a single websocket connection (one participant).
type Client struct {
	// ID is the server-assigned connection id, unique per connection.
	ID string

	// DisplayName is set on room join and carried in membership events.
	DisplayName string

	// Room is the id of the room the client is in, empty until joined.
	Room string

	Hub  *Hub
	Conn *websocket.Conn

	// Send is the outbound envelope buffer drained by WritePump.
	Send chan protocol.Envelope
}

// deliver queues an envelope without blocking the hub loop. A full buffer
// drops the envelope, consistent with at-most-once delivery.
func (c *Client) deliver(env protocol.Envelope) {
	select {
	case c.Send <- env:
	default:
		slog.Debug("dropping envelope for slow client", "client", c.ID, "type", env.Type)
	}
}

// ReadPump pumps envelopes from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine and performs
// all reads from it, so there is at most one reader on a connection.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env protocol.Envelope
		if err := c.Conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read failed", "client", c.ID, "err", err)
			}
			return
		}

		c.Hub.Inbound <- inbound{client: c, env: env}
	}
}

// WritePump pumps envelopes from the hub to the websocket connection and
// sends periodic pings.
//
// A goroutine running WritePump is started per connection and performs all
// writes, so there is at most one writer on a connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(env); err != nil {
				slog.Debug("websocket write failed", "client", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
