package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/wsrelay/internal/dispatch/dispatchtest"
	"github.com/1ureka/wsrelay/internal/outbound"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/relay"
)

// fakeOutbound records pushed messages, or fails every push with err.
type fakeOutbound struct {
	mu     sync.Mutex
	frames []*protocol.PacketFrame
	err    error
}

func (o *fakeOutbound) TryPush(msg protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.frames = append(o.frames, msg.(*protocol.PacketFrame))
	return nil
}

func (o *fakeOutbound) Frames() []*protocol.PacketFrame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*protocol.PacketFrame(nil), o.frames...)
}

// countingObserver tallies observer callbacks.
type countingObserver struct {
	mu        sync.Mutex
	forwarded int
	dropped   []error
}

func (c *countingObserver) FrameForwarded(*protocol.PacketFrame) {
	c.mu.Lock()
	c.forwarded++
	c.mu.Unlock()
}

func (c *countingObserver) FrameDropped(_ *protocol.PacketFrame, err error) {
	c.mu.Lock()
	c.dropped = append(c.dropped, err)
	c.mu.Unlock()
}

var testIdentity = relay.Identity{SelfID: 5, PropagateID: 9, RequestID: 42, PacketID: 7}

const payload = `{"text":"hello"}`

func wrapped(t *testing.T) []byte {
	t.Helper()
	b, err := protocol.WrapBody(42, []byte(payload))
	require.NoError(t, err)
	return b
}

func newRelay(out relay.Outbound, local *dispatchtest.Recorder, opts ...relay.Option) *relay.Relay {
	return relay.New(local, out, testIdentity, opts...)
}

func TestSendToSelfGoesToTunnelOnly(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	require.NoError(t, r.Send(context.Background(), "5", []byte(payload)))

	assert.Empty(t, local.Calls())
	require.Len(t, out.Frames(), 1)
	assert.Equal(t, &protocol.PacketFrame{
		RequestID: 42,
		PacketID:  7,
		Broadcast: false,
		OnlyID:    protocol.ConnRef(9),
		Message:   wrapped(t),
	}, out.Frames()[0])
}

func TestSendToPeerIsDelegated(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	require.NoError(t, r.Send(context.Background(), "3", []byte(payload)))

	assert.Empty(t, out.Frames())
	assert.Equal(t, []dispatchtest.Call{{Method: "Send", ConnID: "3", Data: payload}}, local.Calls())
}

func TestSendToPeerPropagatesLocalError(t *testing.T) {
	boom := errors.New("socket gone")
	local := &dispatchtest.Recorder{Err: boom}
	r := newRelay(&fakeOutbound{}, local)

	assert.Same(t, boom, r.Send(context.Background(), "3", []byte(payload)))
}

func TestSendAllGoesBothWays(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	require.NoError(t, r.SendAll(context.Background(), []byte(payload)))

	assert.Equal(t, []dispatchtest.Call{{Method: "SendAll", Data: payload}}, local.Calls())
	require.Len(t, out.Frames(), 1)
	assert.Equal(t, &protocol.PacketFrame{
		RequestID: 42,
		PacketID:  7,
		Broadcast: true,
		Message:   wrapped(t),
	}, out.Frames()[0])
}

func TestSendAllForwardsEvenWhenLocalFails(t *testing.T) {
	boom := errors.New("hub down")
	local := &dispatchtest.Recorder{Err: boom}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	assert.Same(t, boom, r.SendAll(context.Background(), []byte(payload)))
	assert.Len(t, out.Frames(), 1)
}

func TestSendAllExceptPropagateTarget(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	require.NoError(t, r.SendAllExcept(context.Background(), "9", []byte(payload)))

	assert.Empty(t, out.Frames())
	assert.Equal(t, []dispatchtest.Call{{Method: "SendAllExcept", ConnID: "9", Data: payload}}, local.Calls())
}

func TestSendAllExceptOther(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	require.NoError(t, r.SendAllExcept(context.Background(), "3", []byte(payload)))

	assert.Equal(t, []dispatchtest.Call{{Method: "SendAllExcept", ConnID: "3", Data: payload}}, local.Calls())
	require.Len(t, out.Frames(), 1)
	assert.Equal(t, &protocol.PacketFrame{
		RequestID: 42,
		PacketID:  7,
		Broadcast: true,
		ExceptID:  protocol.ConnRef(9),
		Message:   wrapped(t),
	}, out.Frames()[0])
}

func TestPingIsLocalOnly(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)

	require.NoError(t, r.Ping(context.Background()))

	assert.Empty(t, out.Frames())
	assert.Equal(t, []dispatchtest.Call{{Method: "Ping"}}, local.Calls())
}

// ops exercises every Dispatcher method with a mix of addressing.
var ops = []struct {
	name string
	call func(*relay.Relay) error
}{
	{"send self", func(r *relay.Relay) error { return r.Send(context.Background(), "5", []byte(payload)) }},
	{"send peer", func(r *relay.Relay) error { return r.Send(context.Background(), "3", []byte(payload)) }},
	{"send all", func(r *relay.Relay) error { return r.SendAll(context.Background(), []byte(payload)) }},
	{"send all except propagate", func(r *relay.Relay) error {
		return r.SendAllExcept(context.Background(), "9", []byte(payload))
	}},
	{"send all except peer", func(r *relay.Relay) error {
		return r.SendAllExcept(context.Background(), "3", []byte(payload))
	}},
	{"ping", func(r *relay.Relay) error { return r.Ping(context.Background()) }},
}

// TestTunnelFailureNeverChangesResult compares every operation against a
// healthy tunnel, with both a healthy and a failing local dispatcher.
func TestTunnelFailureNeverChangesResult(t *testing.T) {
	localErr := errors.New("local failure")

	for _, op := range ops {
		for _, tunnelErr := range []error{outbound.ErrQueueFull, outbound.ErrQueueClosed} {
			for _, lerr := range []error{nil, localErr} {
				name := op.name + "/" + tunnelErr.Error()
				if lerr != nil {
					name += "/local error"
				}
				t.Run(name, func(t *testing.T) {
					healthy := newRelay(&fakeOutbound{}, &dispatchtest.Recorder{Err: lerr})
					broken := newRelay(&fakeOutbound{err: tunnelErr}, &dispatchtest.Recorder{Err: lerr})

					assert.Equal(t, op.call(healthy), op.call(broken))
				})
			}
		}
	}
}

// TestFramesNeverCarryBothFilters checks every frame produced by any operation.
func TestFramesNeverCarryBothFilters(t *testing.T) {
	out := &fakeOutbound{}
	r := newRelay(out, &dispatchtest.Recorder{})

	for _, op := range ops {
		_ = op.call(r)
	}

	require.NotEmpty(t, out.Frames())
	for _, f := range out.Frames() {
		assert.False(t, f.ExceptID != nil && f.OnlyID != nil, "frame %+v", f)
		assert.NoError(t, f.Validate())
	}
}

func TestObserverSeesForwardsAndDrops(t *testing.T) {
	obs := &countingObserver{}
	r := newRelay(&fakeOutbound{}, &dispatchtest.Recorder{}, relay.WithObserver(obs))
	require.NoError(t, r.SendAll(context.Background(), []byte(payload)))
	assert.Equal(t, 1, obs.forwarded)

	obs = &countingObserver{}
	r = newRelay(&fakeOutbound{err: outbound.ErrQueueClosed}, &dispatchtest.Recorder{}, relay.WithObserver(obs))
	require.NoError(t, r.Send(context.Background(), "5", []byte(payload)))
	assert.Equal(t, 0, obs.forwarded)
	require.Len(t, obs.dropped, 1)
	assert.ErrorIs(t, obs.dropped[0], outbound.ErrQueueClosed)
}

func TestMalformedInputIsTyped(t *testing.T) {
	local := &dispatchtest.Recorder{}
	out := &fakeOutbound{}
	r := newRelay(out, local)
	var perr *protocol.ParseError

	err := r.Send(context.Background(), "five", []byte(payload))
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "connection id", perr.Field)

	err = r.SendAllExcept(context.Background(), "-3", []byte(payload))
	require.ErrorAs(t, err, &perr)

	err = r.Send(context.Background(), "5", []byte(`{broken`))
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, protocol.ErrInvalidJSON)

	err = r.SendAll(context.Background(), []byte(`{broken`))
	assert.ErrorIs(t, err, protocol.ErrInvalidJSON)

	assert.Empty(t, out.Frames())
	assert.Empty(t, local.Calls())
}

// TestWorksWithQueue runs concurrent callers against a real outbound queue and
// checks that one relay's frames keep their push order.
func TestWorksWithQueue(t *testing.T) {
	q := outbound.NewQueue(0)
	r := relay.New(&dispatchtest.Recorder{}, q, testIdentity)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.SendAll(context.Background(), []byte(payload))
			_ = r.Send(context.Background(), "5", []byte(payload))
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, q.Len())

	single := outbound.NewQueue(0)
	sr := relay.New(&dispatchtest.Recorder{}, single, testIdentity)
	require.NoError(t, sr.Send(context.Background(), "5", []byte(`1`)))
	require.NoError(t, sr.SendAll(context.Background(), []byte(`2`)))
	require.NoError(t, sr.SendAllExcept(context.Background(), "3", []byte(`3`)))
	single.Close()

	var routes []string
	for {
		msg, err := single.Pop(context.Background())
		if err != nil {
			break
		}
		routes = append(routes, msg.(*protocol.PacketFrame).Route())
	}
	assert.Equal(t, []string{"direct", "broadcast", "broadcast_except"}, routes)
}
