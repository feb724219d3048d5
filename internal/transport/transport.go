package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wsrelay/internal/outbound"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/relay"
	"github.com/1ureka/wsrelay/internal/util"
)

// Options tune a Transport.
type Options struct {
	STUNServers []string
	QueueLimit  int // 0 = unbounded outbound queue
}

// Transport wraps a single PeerConnection + DataChannel pair. Outgoing
// messages go through its outbound queue; incoming ones are decoded and
// passed to the OnMessage callback.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	queue      *outbound.Queue
	sender     *sender
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewTransport creates a Transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller performs signaling via the exposed
// methods (CreateOffer / CreateAnswer / …) and then exchanges messages.
//
// Messages pushed before the DataChannel opens wait in the queue.
func NewTransport(ctx context.Context, opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts.STUNServers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:         pc,
		dc:         dc,
		queue:      outbound.NewQueue(opts.QueueLimit),
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → cancel transport context and refuse further pushes.
	dc.OnClose(func() {
		util.LogInfo("DataChannel closed")
		t.queue.Close()
		tCancel()
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
	})

	t.sender = newSender(tCtx, dc, t.queue, t.openSignal)

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the queue, the DataChannel and the PeerConnection.
func (t *Transport) Close() error {
	t.queue.Close()
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Outbound returns the producer side of the send queue. Pushes never block.
func (t *Transport) Outbound() relay.Outbound {
	return t.queue
}

// QueueLen reports how many messages wait for the DataChannel.
func (t *Transport) QueueLen() int {
	return t.queue.Len()
}

// OnMessage registers a callback invoked for every inbound DataChannel message.
// The callback receives the decoded message and any decoding error.
func (t *Transport) OnMessage(fn func(protocol.Message, error)) {
	t.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		m, err := protocol.Decode(msg.Data)
		fn(m, err)
	})
}
