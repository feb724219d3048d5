// Package signaling runs the one-shot WebSocket SDP/ICE exchange that sets up
// the tunnel. Callers receive a Transport whose DataChannel is open.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/1ureka/wsrelay/internal/transport"
	"github.com/1ureka/wsrelay/internal/util"
)

// EstablishAsHost executes the full host-side signaling flow:
//  1. Start a WS server on addr
//  2. Print the bound address
//  3. Wait for the client to connect
//  4. Create a Transport and send the Offer
//  5. Wait for the DataChannel to be ready
//  6. Close the WS server and connection
func EstablishAsHost(ctx context.Context, addr string, opts transport.Options) (*transport.Transport, error) {
	srv := newServer()
	bound, err := srv.start(addr)
	if err != nil {
		return nil, err
	}
	defer srv.close()

	port := bound.(*net.TCPAddr).Port
	pterm.DefaultBox.WithTitle("Signaling").Println(
		fmt.Sprintf("Listening on %s\nClient bridge URL: ws://<this host>:%d/ws", bound, port),
	)
	util.LogInfo("waiting for the client bridge to connect...")

	wsConn, err := srv.waitForClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for client: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("client connected")

	return exchange(ctx, wsConn, opts, true)
}

// EstablishAsClient executes the full client-side signaling flow:
//  1. Connect to the host's WS server
//  2. Create a Transport and answer the host's Offer
//  3. Wait for the DataChannel to be ready
//  4. Close the WS connection
func EstablishAsClient(ctx context.Context, wsURL string, opts transport.Options) (*transport.Transport, error) {
	util.LogInfo("connecting to host...")
	wsConn, err := connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogInfo("WS connected: %s", wsURL)

	return exchange(ctx, wsConn, opts, false)
}

// exchange creates the Transport and trades SDP/ICE over wsConn until the
// DataChannel opens. The offerer is the host.
func exchange(ctx context.Context, wsConn *websocket.Conn, opts transport.Options, offer bool) (*transport.Transport, error) {
	tr, err := transport.NewTransport(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}

	tr.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			data, _ := json.Marshal(c.ToJSON())
			// Error intentionally ignored: sendCandidate is best-effort.
			s.sendCandidate(string(data))
		}
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when the caller closes wsConn
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogSuccess("WebRTC DataChannel established, closing WS")
		return tr, nil

	case err := <-errCh:
		// The peer may close WS as soon as its side of the channel opened.
		select {
		case <-tr.Ready():
			return tr, nil
		default:
		}
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
