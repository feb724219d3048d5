package transport

import (
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers. With none, only host candidates are gathered. No TURN: the link
// is meant to be direct.
func newPeerConnection(stunServers []string) (*webrtc.PeerConnection, error) {
	var config webrtc.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: stunServers},
		}
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, ordered DataChannel on the given
// PeerConnection. Negotiated mode (ID 0) lets both sides create the channel
// independently. Ordered delivery keeps each relay's frames in push order.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("relay", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
