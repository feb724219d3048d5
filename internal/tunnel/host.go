package tunnel

import (
	"context"

	"github.com/1ureka/wsrelay/internal/dispatch"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/relay"
	"github.com/1ureka/wsrelay/internal/util"
)

// LocalHub is the host-side hub: a dispatcher that can also reserve the id
// the tunnel occupies on it.
type LocalHub interface {
	dispatch.Dispatcher
	Reserve() protocol.ConnectionID
	Release(id protocol.ConnectionID)
}

// HostBridge builds one relay per message and runs the handler through it.
type HostBridge struct {
	hub     LocalHub
	link    Link
	handler Handler

	slot    protocol.ConnectionID
	packets *SeqGen

	observer  relay.Observer
	onRequest func()
}

// HostOption configures a HostBridge.
type HostOption func(*HostBridge)

// WithRelayObserver is passed to every relay the bridge creates.
func WithRelayObserver(o relay.Observer) HostOption {
	return func(b *HostBridge) { b.observer = o }
}

// WithRequestHook is called for every inbound tunnel request.
func WithRequestHook(fn func()) HostOption {
	return func(b *HostBridge) { b.onRequest = fn }
}

// NewHostBridge reserves the tunnel's slot on hub.
func NewHostBridge(hub LocalHub, link Link, handler Handler, opts ...HostOption) *HostBridge {
	b := &HostBridge{
		hub:     hub,
		link:    link,
		handler: handler,
		slot:    hub.Reserve(),
		packets: NewSeqGen(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Slot returns the tunnel's virtual connection id on the local hub.
func (b *HostBridge) Slot() protocol.ConnectionID { return b.slot }

func (b *HostBridge) newRelay(propagate protocol.ConnectionID, requestID uint64) *relay.Relay {
	return relay.New(b.hub, b.link.Outbound(), relay.Identity{
		SelfID:      b.slot,
		PropagateID: propagate,
		RequestID:   requestID,
		PacketID:    b.packets.Next(),
	}, relay.WithObserver(b.observer))
}

// HandleLocal serves a message from a directly connected client. Its relay
// represents nobody on the tunnel side (id 0), so broadcasts reach every
// tunnel client.
func (b *HostBridge) HandleLocal(ctx context.Context, from protocol.ConnectionID, data []byte) {
	r := b.newRelay(0, 0)
	if err := b.handler(ctx, r, from, data); err != nil {
		util.LogWarning("[%d] message rejected: %v", from, err)
		if err := b.hub.Send(ctx, from.String(), encodeErrorReply(0, err.Error())); err != nil {
			util.LogDebug("[%d] error reply failed: %v", from, err)
		}
	}
}

// HandleRequest serves one tunnel request as if it came from the tunnel slot.
func (b *HostBridge) HandleRequest(ctx context.Context, req *protocol.Request) {
	if b.onRequest != nil {
		b.onRequest()
	}

	r := b.newRelay(req.ConnID, req.RequestID)
	id := r.Identity()
	util.LogDebug("request %d from remote %d (packet %d)", id.RequestID, id.PropagateID, id.PacketID)

	if err := b.handler(ctx, r, b.slot, req.Body); err != nil {
		util.LogWarning("request %d from remote %d rejected: %v", req.RequestID, req.ConnID, err)
		notice := &protocol.ErrorFrame{RequestID: req.RequestID, ConnID: req.ConnID, Reason: err.Error()}
		if err := b.link.Outbound().TryPush(notice); err != nil {
			util.LogWarning("request %d: error notice dropped: %v", req.RequestID, err)
		}
	}
}

// Run serves tunnel requests until the link or ctx is done, then releases the slot.
func (b *HostBridge) Run(ctx context.Context) error {
	defer b.hub.Release(b.slot)

	b.link.OnMessage(func(msg protocol.Message, err error) {
		if err != nil {
			util.LogWarning("failed to decode tunnel message: %v", err)
			return
		}
		req, ok := msg.(*protocol.Request)
		if !ok {
			util.LogWarning("unexpected %s message from tunnel client", msg.Kind())
			return
		}
		b.HandleRequest(ctx, req)
	})

	return wait(ctx, b.link)
}
