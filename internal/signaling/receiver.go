package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wsrelay/internal/transport"
)

// receiver applies inbound signaling messages to the Transport.
type receiver struct {
	tr     *transport.Transport
	conn   *websocket.Conn
	sender *sender
}

// watch reads until the WebSocket fails or closes. An offer is answered
// through the sender.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if err := r.tr.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}
