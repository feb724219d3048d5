// Package app contains the top-level orchestration for host and client roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/1ureka/wsrelay/internal/config"
	"github.com/1ureka/wsrelay/internal/hub"
	"github.com/1ureka/wsrelay/internal/metrics"
	"github.com/1ureka/wsrelay/internal/transport"
	"github.com/1ureka/wsrelay/internal/util"
)

const shutdownTimeout = 3 * time.Second

// newMux routes the hub path to h and, when enabled, the metrics path to reg.
func newMux(cfg *config.Config, h *hub.Hub, reg prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.Hub.Path, h)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
	}
	return mux
}

// serveHub binds the hub listener and serves until ctx is cancelled. The
// returned channel yields the server's exit error, if any.
func serveHub(ctx context.Context, cfg *config.Config, handler http.Handler) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", cfg.Hub.Listen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", cfg.Hub.Listen, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return ln.Addr(), errCh, nil
}

func hubOptions(cfg *config.Config, observer hub.ConnectionObserver) []hub.Option {
	return []hub.Option{
		hub.WithWriteTimeout(cfg.Hub.WriteTimeout),
		hub.WithMaxMessageSize(cfg.Hub.MaxMessageSize),
		hub.WithObserver(observer),
	}
}

func transportOptions(cfg *config.Config) transport.Options {
	return transport.Options{
		STUNServers: cfg.Tunnel.STUNServers,
		QueueLimit:  cfg.Tunnel.QueueLimit,
	}
}

func startStats(ctx context.Context, cfg *config.Config) {
	if cfg.Log.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.Log.StatsInterval)
	}
}

// finish maps a bridge's exit to the run result: a cancelled ctx is a clean
// shutdown, and so is the peer closing the tunnel.
func finish(err error, serveErr <-chan error) error {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	select {
	case sErr := <-serveErr:
		if sErr != nil {
			return errors.Join(err, fmt.Errorf("hub server: %w", sErr))
		}
	default:
	}
	return err
}
