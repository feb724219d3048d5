package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/1ureka/wsrelay/internal/config"
	"github.com/1ureka/wsrelay/internal/hub"
	"github.com/1ureka/wsrelay/internal/metrics"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/room"
	"github.com/1ureka/wsrelay/internal/signaling"
	"github.com/1ureka/wsrelay/internal/tunnel"
	"github.com/1ureka/wsrelay/internal/util"
)

// RunHost orchestrates the full host lifecycle:
//  1. Establish the tunnel through signaling
//  2. Start the local hub with the tunnel's slot reserved
//  3. Run every client message, local or tunneled, through a relay
//  4. Serve until the tunnel closes or ctx is cancelled
func RunHost(ctx context.Context, cfg *config.Config) error {
	tr, err := signaling.EstablishAsHost(ctx, cfg.Signaling.Listen, transportOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to establish tunnel: %w", err)
	}
	defer tr.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, tr.QueueLen)

	h := hub.New(hubOptions(cfg, m)...)
	defer h.Close()

	bridge := tunnel.NewHostBridge(h, tr, room.Handle,
		tunnel.WithRelayObserver(m),
		tunnel.WithRequestHook(m.TunnelRequest),
	)
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
	util.LogSuccess("tunnel established, hub listening on ws://%s%s (tunnel slot %s)", addr, cfg.Hub.Path, bridge.Slot())

	err = bridge.Run(runCtx)
	util.LogInfo("tunnel closed")
	cancel()
	return finish(err, serveErr)
}
