package tunnel

import (
	"context"

	"github.com/1ureka/wsrelay/internal/dispatch"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/util"
)

// ClientBridge forwards its hub's clients to the host and applies the host's
// frames to its hub.
type ClientBridge struct {
	hub      dispatch.Dispatcher
	link     Link
	requests *SeqGen
}

// NewClientBridge creates a bridge between hub and link.
func NewClientBridge(hub dispatch.Dispatcher, link Link) *ClientBridge {
	return &ClientBridge{hub: hub, link: link, requests: NewSeqGen()}
}

// HandleLocal forwards one client message as a tunnel request.
func (b *ClientBridge) HandleLocal(ctx context.Context, from protocol.ConnectionID, data []byte) {
	req := &protocol.Request{RequestID: b.requests.Next(), ConnID: from, Body: data}
	if err := b.link.Outbound().TryPush(req); err != nil {
		util.LogWarning("[%d] request %d dropped: %v", from, req.RequestID, err)
		if err := b.hub.Send(ctx, from.String(), encodeErrorReply(req.RequestID, "tunnel unavailable")); err != nil {
			util.LogDebug("[%d] error reply failed: %v", from, err)
		}
	}
}

// Apply delivers one message from the host to the local hub.
func (b *ClientBridge) Apply(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.PacketFrame:
		if err := m.Validate(); err != nil {
			return err
		}
		switch {
		case !m.Broadcast:
			return b.hub.Send(ctx, m.OnlyID.String(), m.Message)
		case m.ExceptID != nil:
			return b.hub.SendAllExcept(ctx, m.ExceptID.String(), m.Message)
		default:
			return b.hub.SendAll(ctx, m.Message)
		}

	case *protocol.ErrorFrame:
		return b.hub.Send(ctx, m.ConnID.String(), encodeErrorReply(m.RequestID, m.Reason))

	default:
		util.LogWarning("unexpected %s message from tunnel host", msg.Kind())
		return nil
	}
}

// Run applies host messages until the link or ctx is done.
func (b *ClientBridge) Run(ctx context.Context) error {
	b.link.OnMessage(func(msg protocol.Message, err error) {
		if err != nil {
			util.LogWarning("failed to decode tunnel message: %v", err)
			return
		}
		if err := b.Apply(ctx, msg); err != nil {
			util.LogDebug("tunnel %s not delivered: %v", msg.Kind(), err)
		}
	})

	return wait(ctx, b.link)
}
