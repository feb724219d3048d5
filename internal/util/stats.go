package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns  atomic.Int64 // websocket clients accepted by the local hub
	ClosedConns atomic.Int64 // websocket clients that left the local hub
	BytesSent   atomic.Int64 // bytes written to the tunnel link
	BytesRecv   atomic.Int64 // bytes read from the tunnel link
	FramesSent  atomic.Int64 // tunnel messages written
	FramesRecv  atomic.Int64 // tunnel messages read
}

func (s *stats) AddConn()    { s.TotalConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }

func (s *stats) AddSent(n int) {
	s.BytesSent.Add(int64(n))
	s.FramesSent.Add(1)
}

func (s *stats) AddRecv(n int) {
	s.BytesRecv.Add(int64(n))
	s.FramesRecv.Add(1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs tunnel statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := takeSnapshot()
				d := cur.sub(prev)
				secs := interval.Seconds()

				if d.joined > 0 || d.left > 0 || d.framesOut > 0 || d.framesIn > 0 {
					pterm.DefaultLogger.Info(formatStats(
						float64(d.sent)/secs, float64(d.recv)/secs,
						d.framesOut, d.framesIn, d.joined, d.left,
					))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	joined, left        int64
	sent, recv          int64
	framesOut, framesIn int64
}

func takeSnapshot() snapshot {
	return snapshot{
		joined:    Stats.TotalConns.Load(),
		left:      Stats.ClosedConns.Load(),
		sent:      Stats.BytesSent.Load(),
		recv:      Stats.BytesRecv.Load(),
		framesOut: Stats.FramesSent.Load(),
		framesIn:  Stats.FramesRecv.Load(),
	}
}

func (s snapshot) sub(o snapshot) snapshot {
	return snapshot{
		joined:    s.joined - o.joined,
		left:      s.left - o.left,
		sent:      s.sent - o.sent,
		recv:      s.recv - o.recv,
		framesOut: s.framesOut - o.framesOut,
		framesIn:  s.framesIn - o.framesIn,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(outS, inS float64, framesOut, framesIn, joined, left int64) string {
	return fmt.Sprintf("Tunnel out: %s/s (%d) | in: %s/s (%d) | Clients: %2d↑ %2d↓",
		formatBytes(outS), framesOut,
		formatBytes(inS), framesIn,
		joined, left,
	)
}
