package hub

import "errors"

var (
	// ErrConnectionNotFound indicates no connection has the given id.
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrVirtualConnection indicates the id is a reserved slot without a socket.
	ErrVirtualConnection = errors.New("connection is virtual")
	// ErrHubClosed indicates the hub no longer accepts connections.
	ErrHubClosed = errors.New("hub closed")
)
