package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/1ureka/wsrelay/internal/config"
	"github.com/1ureka/wsrelay/internal/hub"
	"github.com/1ureka/wsrelay/internal/metrics"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/signaling"
	"github.com/1ureka/wsrelay/internal/tunnel"
	"github.com/1ureka/wsrelay/internal/util"
)

// ClientFirstID is where client hub ids start. The host compares these ids
// with its own in SendAllExcept, so the two ranges must not overlap.
const ClientFirstID protocol.ConnectionID = 1 << 32

// RunClient orchestrates the full client lifecycle:
//  1. Connect to the host's signaling server and establish the tunnel
//  2. Start the local hub
//  3. Forward client messages as requests and apply the host's frames
//  4. Serve until the tunnel closes or ctx is cancelled
func RunClient(ctx context.Context, cfg *config.Config) error {
	tr, err := signaling.EstablishAsClient(ctx, cfg.Signaling.URL, transportOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to establish tunnel: %w", err)
	}
	defer tr.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, tr.QueueLen)

	h := hub.New(append(hubOptions(cfg, m), hub.WithFirstID(ClientFirstID))...)
	defer h.Close()

	bridge := tunnel.NewClientBridge(h, tr)
	h.OnMessage(func(id protocol.ConnectionID, data []byte) {
		bridge.HandleLocal(ctx, id, data)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr, serveErr, err := serveHub(runCtx, cfg, newMux(cfg, h, reg))
	if err != nil {
		return err
	}

	startStats(runCtx, cfg)
	util.LogSuccess("tunnel established, hub listening on ws://%s%s", addr, cfg.Hub.Path)

	err = bridge.Run(runCtx)
	util.LogInfo("tunnel closed")
	cancel()
	return finish(err, serveErr)
}
