package outbound

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/wsrelay/internal/protocol"
)

func req(id uint64) *protocol.Request {
	return &protocol.Request{RequestID: id}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(0)
	for i := uint64(1); i <= 100; i++ {
		require.NoError(t, q.TryPush(req(i)))
	}
	assert.Equal(t, 100, q.Len())

	ctx := context.Background()
	for i := uint64(1); i <= 100; i++ {
		msg, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, msg.(*protocol.Request).RequestID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueLimit(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.TryPush(req(1)))
	require.NoError(t, q.TryPush(req(2)))
	assert.ErrorIs(t, q.TryPush(req(3)), ErrQueueFull)

	_, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.NoError(t, q.TryPush(req(3)))
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	q := NewQueue(0)
	require.NoError(t, q.TryPush(req(1)))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.TryPush(req(2)), ErrQueueClosed)

	msg, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.(*protocol.Request).RequestID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue(0)
	got := make(chan protocol.Message, 1)
	go func() {
		msg, err := q.Pop(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.TryPush(req(7)))

	select {
	case msg := <-got:
		assert.Equal(t, uint64(7), msg.(*protocol.Request).RequestID)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after TryPush")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := NewQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestQueueConcurrentProducers checks that every push from many goroutines is
// delivered exactly once and that each producer's own order is kept.
func TestQueueConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500
	q := NewQueue(0)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.TryPush(&protocol.Request{RequestID: uint64(p), ConnID: protocol.ConnectionID(i)})
			}
		}(p)
	}
	wg.Wait()
	q.Close()

	last := make(map[uint64]int)
	for p := 0; p < producers; p++ {
		last[uint64(p)] = -1
	}
	total := 0
	for {
		msg, err := q.Pop(context.Background())
		if err != nil {
			break
		}
		r := msg.(*protocol.Request)
		assert.Greater(t, int(r.ConnID), last[r.RequestID])
		last[r.RequestID] = int(r.ConnID)
		total++
	}
	assert.Equal(t, producers*perProducer, total)
}
