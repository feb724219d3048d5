package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wsrelay/internal/outbound"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// sender is the single consumer of the outbound queue. It serializes all
// writes to the DataChannel, adding open-gate and backpressure control.
type sender struct {
	queue       *outbound.Queue
	drainSignal chan struct{}
}

// newSender wires the backpressure callbacks on dc and starts the background
// loop. The loop exits when ctx is cancelled or the queue is closed.
func newSender(ctx context.Context, dc *webrtc.DataChannel, queue *outbound.Queue, openSignal <-chan struct{}) *sender {
	s := &sender{
		queue:       queue,
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop waits for the DataChannel to open, then drains the queue with
// backpressure awareness. Producers keep enqueuing while it waits.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send messages with backpressure.
	for {
		msg, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}

		if dc.BufferedAmount() > uint64(highWaterMark) {
			select {
			case <-s.drainSignal:
			case <-ctx.Done():
				return
			}
		}

		data, err := protocol.Encode(msg)
		if err != nil {
			util.LogError("failed to encode %s message: %v", msg.Kind(), err)
			continue
		}
		if err := dc.Send(data); err != nil {
			util.LogError("failed to send %s message: %v", msg.Kind(), err)
			return
		}

		util.Stats.AddSent(len(data))
	}
}
