package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// connect dials the given WebSocket URL and returns the connection, e.g.:
//
//	ws://203.0.113.7:7000/ws
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}
