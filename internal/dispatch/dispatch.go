// Package dispatch defines the capability shared by everything that can deliver
// a message to websocket clients: the local hub and the tunnel relay that
// wraps it.
package dispatch

import "context"

// Dispatcher delivers text payloads to connections addressed by decimal id.
type Dispatcher interface {
	// Send delivers data to one connection.
	Send(ctx context.Context, connID string, data []byte) error
	// SendAll delivers data to every connection.
	SendAll(ctx context.Context, data []byte) error
	// SendAllExcept delivers data to every connection but connID.
	SendAllExcept(ctx context.Context, connID string, data []byte) error
	// Ping probes the liveness of the connections.
	Ping(ctx context.Context) error
}
