package tunnel

import (
	"context"
	"sync"
	"testing"

	"github.com/1ureka/wsrelay/internal/outbound"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/relay"
)

// Compile-time interface check.
var _ Link = (*memLink)(nil)

// memLink is an in-process Link. Two linked instances simulate the tunnel:
// whatever one side pushes is encoded, decoded and handed to the other side's
// OnMessage handler by a single pump goroutine, in push order.
type memLink struct {
	out  *outbound.Queue
	peer *memLink

	mu      sync.RWMutex
	handler func(protocol.Message, error)

	done chan struct{}
	once sync.Once
}

// linkPair creates two connected links. Both are closed when the test ends.
func linkPair(t *testing.T) (host, client *memLink) {
	host = &memLink{out: outbound.NewQueue(0), done: make(chan struct{})}
	client = &memLink{out: outbound.NewQueue(0), done: make(chan struct{})}
	host.peer = client
	client.peer = host

	ctx, cancel := context.WithCancel(context.Background())
	go host.pump(ctx)
	go client.pump(ctx)

	t.Cleanup(func() {
		cancel()
		host.Close()
		client.Close()
	})
	return host, client
}

func (m *memLink) Outbound() relay.Outbound { return m.out }

func (m *memLink) OnMessage(fn func(protocol.Message, error)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

func (m *memLink) Done() <-chan struct{} { return m.done }

// Close signals that this link is done. Safe to call multiple times.
func (m *memLink) Close() {
	m.once.Do(func() {
		close(m.done)
		m.out.Close()
	})
}

func (m *memLink) hasHandler() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler != nil
}

func (m *memLink) pump(ctx context.Context) {
	for {
		msg, err := m.out.Pop(ctx)
		if err != nil {
			return
		}

		data, err := protocol.Encode(msg)
		if err != nil {
			continue
		}
		decoded, err := protocol.Decode(data)

		m.peer.mu.RLock()
		fn := m.peer.handler
		m.peer.mu.RUnlock()
		if fn != nil {
			fn(decoded, err)
		}
	}
}
