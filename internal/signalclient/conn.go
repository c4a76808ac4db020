// Package signalclient manages the client's websocket connection to the
// signaling server and demultiplexes server envelopes into typed events.
package signalclient

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atultiwari000/video-chat-app-2/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Conn manages the websocket connection to the signaling server.
type Conn struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan protocol.Envelope
	outgoing  chan protocol.Envelope
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewConn creates an unconnected signaling connection.
func NewConn(serverURL string) *Conn {
	return &Conn{
		serverURL: serverURL,
		incoming:  make(chan protocol.Envelope, 32),
		outgoing:  make(chan protocol.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the server and starts the read/write pumps.
func (c *Conn) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

func (c *Conn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.incoming <- env
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for delivery. It never blocks the caller past
// the outgoing buffer; a connection wedged that long is torn down by the
// write deadline anyway.
func (c *Conn) Send(env protocol.Envelope) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.outgoing <- env:
	case <-c.done:
	}
}

// Incoming returns the channel of server envelopes. It is closed when the
// connection drops.
func (c *Conn) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
