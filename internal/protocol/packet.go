// Package protocol defines the messages exchanged over the tunnel link and the
// connection id type shared by every dispatcher.
package protocol

import (
	"errors"
	"fmt"
)

// Kind tags a tunnel message on the wire.
type Kind uint8

const (
	KindRequest Kind = 0x01 // remote client message, client → host
	KindPacket  Kind = 0x02 // routed response frame, host → client
	KindError   Kind = 0x03 // request failure notice, host → client
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindPacket:
		return "packet"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ErrConflictingFilters marks a frame that carries both an except and an only filter.
var ErrConflictingFilters = errors.New("packet frame sets both except_id and only_id")

// Message is any value that can travel over the tunnel link.
type Message interface {
	Kind() Kind
}

// Request carries one message from a tunnel-side client to the host hub.
type Request struct {
	RequestID uint64
	ConnID    ConnectionID // the client's id on the tunnel side
	Body      []byte
}

func (*Request) Kind() Kind { return KindRequest }

// PacketFrame is the routing envelope of a forwarded message.
//
// Broadcast=false with OnlyID set targets exactly that tunnel-side connection.
// Broadcast=true targets every tunnel-side connection except ExceptID, if set.
type PacketFrame struct {
	RequestID uint64
	PacketID  uint64
	Broadcast bool
	ExceptID  *ConnectionID
	OnlyID    *ConnectionID
	Message   []byte
}

func (*PacketFrame) Kind() Kind { return KindPacket }

// Validate rejects frames whose filters contradict each other.
func (f *PacketFrame) Validate() error {
	if f.ExceptID != nil && f.OnlyID != nil {
		return ErrConflictingFilters
	}
	if !f.Broadcast && f.OnlyID == nil {
		return fmt.Errorf("packet frame %d/%d has no target", f.RequestID, f.PacketID)
	}
	return nil
}

// Route describes the frame's target for logs and metric labels.
func (f *PacketFrame) Route() string {
	switch {
	case !f.Broadcast:
		return "direct"
	case f.ExceptID != nil:
		return "broadcast_except"
	default:
		return "broadcast"
	}
}

// ErrorFrame tells the client side that a request could not be served.
type ErrorFrame struct {
	RequestID uint64
	ConnID    ConnectionID
	Reason    string
}

func (*ErrorFrame) Kind() Kind { return KindError }
