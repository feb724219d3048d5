package relay

import "github.com/1ureka/wsrelay/internal/protocol"

// Observer receives the outcome of every frame a Relay tries to forward.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	FrameForwarded(f *protocol.PacketFrame)
	FrameDropped(f *protocol.PacketFrame, err error)
}

type nopObserver struct{}

func (nopObserver) FrameForwarded(*protocol.PacketFrame)       {}
func (nopObserver) FrameDropped(*protocol.PacketFrame, error) {}
