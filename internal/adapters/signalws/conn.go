// Package signalws is the WebSocket transport adapter: it upgrades HTTP
// requests, assigns connection identities and pumps frames between the
// socket and the registry.
package signalws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hudl-live/huddle/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn implements core.SignalConn over a gorilla websocket with a
// buffered, non-blocking send channel.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(ws *websocket.Conn, buf int) *wsConn {
	return &wsConn{conn: ws, send: make(chan core.Frame, buf)}
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
