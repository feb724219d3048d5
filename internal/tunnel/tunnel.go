// Package tunnel connects a local hub to the tunnel link on both ends.
//
// The host bridge serves tunnel-side clients: each inbound Request is handled
// through a relay.Relay, so replies and broadcasts reach local sockets and the
// tunnel alike. The client bridge forwards its own hub's clients as Requests and
// applies inbound PacketFrames to its hub.
package tunnel

import (
	"context"
	"encoding/json"

	"github.com/1ureka/wsrelay/internal/dispatch"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/relay"
)

// Link is the tunnel connection as seen by a bridge. transport.Transport
// implements it; tests use an in-memory pair.
type Link interface {
	Outbound() relay.Outbound
	OnMessage(fn func(protocol.Message, error))
	Done() <-chan struct{}
}

// Handler is the application served by the host hub. from is the sender's id
// on the hub; d is the dispatcher replies must go through.
type Handler func(ctx context.Context, d dispatch.Dispatcher, from protocol.ConnectionID, data []byte) error

// errorReply is what a client receives when its message could not be served.
type errorReply struct {
	RequestID uint64 `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

func encodeErrorReply(requestID uint64, reason string) []byte {
	b, _ := json.Marshal(errorReply{RequestID: requestID, Error: reason})
	return b
}

// wait blocks until the link or ctx is done.
func wait(ctx context.Context, link Link) error {
	select {
	case <-link.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
