package signaling

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wsrelay/internal/transport"
)

// sender serializes outgoing signaling messages; ICE callbacks and the
// receiver's answer write from different goroutines.
type sender struct {
	tr   *transport.Transport
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *sender) send(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// sendDescription creates an SDP with create, applies it locally and sends it
// as typ.
func (s *sender) sendDescription(typ messageType, create func() (webrtc.SessionDescription, error)) error {
	sdp, err := create()
	if err != nil {
		return fmt.Errorf("create %s: %w", typ, err)
	}
	if err := s.tr.SetLocalDescription(sdp); err != nil {
		return fmt.Errorf("set local %s: %w", typ, err)
	}
	return s.send(message{Type: typ, SDP: sdp.SDP})
}

func (s *sender) sendOffer() error {
	return s.sendDescription(msgTypeOffer, s.tr.CreateOffer)
}

func (s *sender) sendAnswer() error {
	return s.sendDescription(msgTypeAnswer, s.tr.CreateAnswer)
}

// sendCandidate sends a JSON-encoded ICECandidateInit.
func (s *sender) sendCandidate(candidate string) error {
	return s.send(message{Type: msgTypeCandidate, Candidate: candidate})
}
