package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/wsrelay/internal/protocol"
)

type testClient struct {
	ws *websocket.Conn
}

func (c *testClient) read(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	typ, data, err := c.ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	return string(data)
}

// startHub serves h and connects n clients; ids are assigned 1..n in dial order.
func startHub(t *testing.T, h *Hub, n int) []*testClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clients := make([]*testClient, 0, n)
	for i := 0; i < n; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { ws.Close() })
		clients = append(clients, &testClient{ws: ws})
		want := i + 1
		require.Eventually(t, func() bool { return h.Len() == want }, 2*time.Second, 5*time.Millisecond)
	}
	return clients
}

func TestHubSend(t *testing.T) {
	h := New()
	clients := startHub(t, h, 2)

	require.NoError(t, h.Send(context.Background(), "2", []byte(`{"to":2}`)))
	require.NoError(t, h.Send(context.Background(), "1", []byte(`"marker"`)))
	assert.Equal(t, `{"to":2}`, clients[1].read(t))
	// The first thing client 1 sees is the marker, not the message for client 2.
	assert.Equal(t, `"marker"`, clients[0].read(t))
}

func TestHubSendErrors(t *testing.T) {
	h := New()
	startHub(t, h, 1)
	slot := h.Reserve()

	err := h.Send(context.Background(), "99", []byte(`1`))
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	err = h.Send(context.Background(), slot.String(), []byte(`1`))
	assert.ErrorIs(t, err, ErrVirtualConnection)

	var perr *protocol.ParseError
	err = h.Send(context.Background(), "one", []byte(`1`))
	assert.ErrorAs(t, err, &perr)

	h.Release(slot)
	err = h.Send(context.Background(), slot.String(), []byte(`1`))
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestHubSendAllAndExcept(t *testing.T) {
	h := New()
	clients := startHub(t, h, 3)

	require.NoError(t, h.SendAll(context.Background(), []byte(`"all"`)))
	for _, c := range clients {
		assert.Equal(t, `"all"`, c.read(t))
	}

	require.NoError(t, h.SendAllExcept(context.Background(), "1", []byte(`"but one"`)))
	require.NoError(t, h.Send(context.Background(), "1", []byte(`"marker"`)))
	assert.Equal(t, `"marker"`, clients[0].read(t))
	assert.Equal(t, `"but one"`, clients[1].read(t))
	assert.Equal(t, `"but one"`, clients[2].read(t))

	// Excluding a virtual slot or id 0 reaches every real socket.
	slot := h.Reserve()
	require.NoError(t, h.SendAllExcept(context.Background(), slot.String(), []byte(`"v"`)))
	require.NoError(t, h.SendAllExcept(context.Background(), "0", []byte(`"z"`)))
	for _, c := range clients {
		assert.Equal(t, `"v"`, c.read(t))
		assert.Equal(t, `"z"`, c.read(t))
	}
}

func TestHubCallbacks(t *testing.T) {
	h := New()

	var mu sync.Mutex
	var got []string
	closed := make(chan protocol.ConnectionID, 1)
	h.OnMessage(func(id protocol.ConnectionID, data []byte) {
		mu.Lock()
		got = append(got, id.String()+":"+string(data))
		mu.Unlock()
	})
	h.OnClose(func(id protocol.ConnectionID) { closed <- id })

	clients := startHub(t, h, 1)
	require.NoError(t, clients[0].ws.WriteMessage(websocket.TextMessage, []byte(`{"a":1}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, `1:{"a":1}`, got[0])
	mu.Unlock()

	require.NoError(t, clients[0].ws.Close())
	select {
	case id := <-closed:
		assert.Equal(t, protocol.ConnectionID(1), id)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not called")
	}
	assert.Equal(t, 0, h.Len())
}

func TestHubPing(t *testing.T) {
	h := New()
	clients := startHub(t, h, 1)

	pinged := make(chan struct{}, 1)
	clients[0].ws.SetPingHandler(func(string) error {
		pinged <- struct{}{}
		return nil
	})
	go func() {
		for {
			if _, _, err := clients[0].ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, h.Ping(context.Background()))
	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive a ping")
	}
}

func TestHubReservedIDsDoNotCollide(t *testing.T) {
	h := New()
	a := h.Reserve()
	startHub(t, h, 1)
	b := h.Reserve()
	assert.NotEqual(t, protocol.ConnectionID(0), a)
	assert.Equal(t, protocol.ConnectionID(1), a)
	assert.Equal(t, protocol.ConnectionID(3), b)
}

func TestHubFirstID(t *testing.T) {
	h := New(WithFirstID(1 << 32))
	assert.Equal(t, protocol.ConnectionID(1<<32), h.Reserve())
	assert.Equal(t, protocol.ConnectionID(1<<32+1), h.Reserve())
}
