// Package relay routes hub traffic between locally connected websocket clients
// and clients that reach the hub through a tunnel.
//
// A Relay wraps the local Dispatcher and implements the same interface. Every
// call is delegated locally and/or turned into a PacketFrame for the tunnel,
// depending on whether the target lives on this hub or on the other side.
// Tunnel delivery is best effort: a full or closed outbound channel is logged,
// reported to the Observer and otherwise ignored, so local delivery never
// depends on tunnel health.
package relay

import (
	"context"

	"github.com/1ureka/wsrelay/internal/dispatch"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/util"
)

var _ dispatch.Dispatcher = (*Relay)(nil)

// Outbound is the producer side of the tunnel channel. TryPush must not block.
type Outbound interface {
	TryPush(msg protocol.Message) error
}

// Identity is fixed for the lifetime of a Relay.
type Identity struct {
	SelfID      protocol.ConnectionID // the tunnel's virtual slot on the local hub
	PropagateID protocol.ConnectionID // the connection the frames represent on the tunnel side
	RequestID   uint64                // correlates every frame with one tunnel request
	PacketID    uint64                // this relay's position in the request's response stream
}

// Relay is stateless beyond its Identity and safe for concurrent use.
type Relay struct {
	id       Identity
	local    dispatch.Dispatcher
	out      Outbound
	observer Observer
}

// Option configures a Relay.
type Option func(*Relay)

// WithObserver installs a hook that sees every forwarded and dropped frame.
func WithObserver(o Observer) Option {
	return func(r *Relay) {
		if o != nil {
			r.observer = o
		}
	}
}

// New creates a Relay in front of local that forwards to out.
func New(local dispatch.Dispatcher, out Outbound, id Identity, opts ...Option) *Relay {
	r := &Relay{
		id:       id,
		local:    local,
		out:      out,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Identity returns the relay's fixed routing identity.
func (r *Relay) Identity() Identity { return r.id }

// Send targets one connection. The relay's own slot stands for the remote
// client it represents, so those messages go to the tunnel only. Any other id
// is a local peer and the call is delegated unchanged.
func (r *Relay) Send(ctx context.Context, connID string, data []byte) error {
	id, err := protocol.ParseConnectionID(connID)
	if err != nil {
		return err
	}

	if id != r.id.SelfID {
		return r.local.Send(ctx, connID, data)
	}

	body, err := protocol.WrapBody(r.id.RequestID, data)
	if err != nil {
		return err
	}
	r.forward(&protocol.PacketFrame{
		RequestID: r.id.RequestID,
		PacketID:  r.id.PacketID,
		Broadcast: false,
		OnlyID:    protocol.ConnRef(r.id.PropagateID),
		Message:   body,
	})
	return nil
}

// SendAll broadcasts on both sides. The two paths are independent; only the
// local result is returned.
func (r *Relay) SendAll(ctx context.Context, data []byte) error {
	body, err := protocol.WrapBody(r.id.RequestID, data)
	if err != nil {
		return err
	}
	r.forward(&protocol.PacketFrame{
		RequestID: r.id.RequestID,
		PacketID:  r.id.PacketID,
		Broadcast: true,
		Message:   body,
	})

	return r.local.SendAll(ctx, data)
}

// SendAllExcept broadcasts locally to everyone but connID. On the tunnel side
// the excluded connection is always the one this relay represents; when connID
// already names it, no frame is produced.
func (r *Relay) SendAllExcept(ctx context.Context, connID string, data []byte) error {
	id, err := protocol.ParseConnectionID(connID)
	if err != nil {
		return err
	}

	if id != r.id.PropagateID {
		body, err := protocol.WrapBody(r.id.RequestID, data)
		if err != nil {
			return err
		}
		r.forward(&protocol.PacketFrame{
			RequestID: r.id.RequestID,
			PacketID:  r.id.PacketID,
			Broadcast: true,
			ExceptID:  protocol.ConnRef(r.id.PropagateID),
			Message:   body,
		})
	}

	return r.local.SendAllExcept(ctx, connID, data)
}

// Ping is local only.
func (r *Relay) Ping(ctx context.Context) error {
	return r.local.Ping(ctx)
}

// forward validates and pushes a frame. Failures never reach the caller.
func (r *Relay) forward(f *protocol.PacketFrame) {
	if err := f.Validate(); err != nil {
		util.LogError("relay %d/%d: rejected %s frame: %v", f.RequestID, f.PacketID, f.Route(), err)
		r.observer.FrameDropped(f, err)
		return
	}

	if err := r.out.TryPush(f); err != nil {
		util.LogWarning("relay %d/%d: dropped %s frame: %v", f.RequestID, f.PacketID, f.Route(), err)
		r.observer.FrameDropped(f, err)
		return
	}

	util.LogDebug("relay %d/%d: queued %s frame (%d bytes)", f.RequestID, f.PacketID, f.Route(), len(f.Message))
	r.observer.FrameForwarded(f)
}
