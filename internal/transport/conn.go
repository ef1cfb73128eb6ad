// Package transport frames protocol.Envelope messages over a
// gorilla/websocket connection. Framing, heartbeats, and connection
// lifecycle are explicitly out of the synchronization core (spec §1) but
// still need a concrete collaborator to make the system runnable; this
// package is that collaborator, grounded on the teacher's
// agent/main.go readPump/writePump shape.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"collabtext/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Conn wraps a *websocket.Conn with one JSON protocol.Envelope per
// message frame, and a buffered write pump so concurrent writers never
// interleave partial frames on the socket.
type Conn struct {
	ws   *websocket.Conn
	send chan protocol.Envelope
	done chan struct{}
}

// NewConn wraps ws and starts its write pump. Call Close when done.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:   ws,
		send: make(chan protocol.Envelope, 8),
		done: make(chan struct{}),
	}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.writePump()
	return c
}

// Send enqueues an envelope for delivery by the write pump; it does not
// write to the socket itself. It blocks only while the 8-envelope send
// buffer is full, and fails once the connection is closed.
func (c *Conn) Send(env protocol.Envelope) error {
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("transport: connection closed")
	}
}

// Receive blocks for the next inbound envelope.
func (c *Conn) Receive() (protocol.Envelope, error) {
	var env protocol.Envelope
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return env, fmt.Errorf("transport: read: %w", err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("transport: decode: %w", err)
	}
	return env, nil
}

// Close stops the write pump and closes the underlying socket.
func (c *Conn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.ws.Close()
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
