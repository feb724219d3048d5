package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wsrelay/internal/protocol"
)

// conn serializes writes to one websocket; gorilla allows a single writer.
type conn struct {
	id        protocol.ConnectionID
	ws        *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *conn) write(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) ping(timeout time.Duration) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}
