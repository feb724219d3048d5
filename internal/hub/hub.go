// Package hub is the local websocket hub: it owns the sockets of directly
// connected clients and delivers messages to them by connection id.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wsrelay/internal/dispatch"
	"github.com/1ureka/wsrelay/internal/protocol"
	"github.com/1ureka/wsrelay/internal/util"
)

var _ dispatch.Dispatcher = (*Hub)(nil)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultMaxMessage   = 1 << 20
)

// ConnectionObserver is notified when sockets join and leave.
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Hub tracks connections under increasing numeric ids, starting at 1 unless
// WithFirstID says otherwise. Id 0 is never assigned, so it can stand for
// "nobody" in routing frames.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	maxMessage   int64
	observer     ConnectionObserver

	mu      sync.RWMutex
	conns   map[protocol.ConnectionID]*conn
	virtual map[protocol.ConnectionID]struct{}
	closed  bool

	nextID atomic.Uint64

	onMessage func(id protocol.ConnectionID, data []byte)
	onClose   func(id protocol.ConnectionID)
}

// Option configures a Hub.
type Option func(*Hub)

// WithWriteTimeout bounds every socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithMaxMessageSize limits inbound message size.
func WithMaxMessageSize(n int64) Option {
	return func(h *Hub) {
		if n > 0 {
			h.maxMessage = n
		}
	}
}

// WithFirstID makes the hub number connections from id instead of 1. Hubs on
// the two ends of a tunnel use disjoint ranges so an id names one endpoint only.
func WithFirstID(id protocol.ConnectionID) Option {
	return func(h *Hub) {
		if id > 0 {
			h.nextID.Store(uint64(id) - 1)
		}
	}
}

// WithObserver reports connection counts.
func WithObserver(o ConnectionObserver) Option {
	return func(h *Hub) { h.observer = o }
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		maxMessage:   defaultMaxMessage,
		conns:        make(map[protocol.ConnectionID]*conn),
		virtual:      make(map[protocol.ConnectionID]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnMessage registers the callback for inbound text messages. It must be set
// before the hub serves requests.
func (h *Hub) OnMessage(fn func(id protocol.ConnectionID, data []byte)) {
	h.onMessage = fn
}

// OnClose registers the callback invoked after a socket leaves.
func (h *Hub) OnClose(fn func(id protocol.ConnectionID)) {
	h.onClose = fn
}

// Reserve allocates an id that has no socket, for a tunnel's virtual presence.
func (h *Hub) Reserve() protocol.ConnectionID {
	id := protocol.ConnectionID(h.nextID.Add(1))
	h.mu.Lock()
	h.virtual[id] = struct{}{}
	h.mu.Unlock()
	return id
}

// Release frees a reserved id.
func (h *Hub) Release(id protocol.ConnectionID) {
	h.mu.Lock()
	delete(h.virtual, id)
	h.mu.Unlock()
}

// Len returns the number of live sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and serves the socket until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("hub: upgrade failed: %v", err)
		return
	}

	c := &conn{id: protocol.ConnectionID(h.nextID.Add(1)), ws: ws}
	if err := h.add(c); err != nil {
		c.close(websocket.CloseGoingAway, "hub closed")
		return
	}
	defer h.remove(c)

	util.LogInfo("[%d] client connected from %s", c.id, r.RemoteAddr)
	h.readLoop(c)
}

func (h *Hub) add(c *conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.conns[c.id] = c

	util.Stats.AddConn()
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}
	return nil
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "")
	if !ok {
		return
	}

	util.Stats.RemoveConn()
	if h.observer != nil {
		h.observer.ConnectionClosed()
	}
	util.LogInfo("[%d] client disconnected", c.id)
	if h.onClose != nil {
		h.onClose(c.id)
	}
}

func (h *Hub) readLoop(c *conn) {
	c.ws.SetReadLimit(h.maxMessage)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("[%d] read error: %v", c.id, err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if h.onMessage != nil {
			h.onMessage(c.id, data)
		}
	}
}

func (h *Hub) lookup(connID string) (*conn, error) {
	id, err := protocol.ParseConnectionID(connID)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.conns[id]; ok {
		return c, nil
	}
	if _, ok := h.virtual[id]; ok {
		return nil, fmt.Errorf("send to %d: %w", id, ErrVirtualConnection)
	}
	return nil, fmt.Errorf("send to %d: %w", id, ErrConnectionNotFound)
}

// snapshot returns the live sockets except the one with id skip (0 skips none).
func (h *Hub) snapshot(skip protocol.ConnectionID) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.conns))
	for id, c := range h.conns {
		if skip != 0 && id == skip {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Send implements dispatch.Dispatcher.
func (h *Hub) Send(_ context.Context, connID string, data []byte) error {
	c, err := h.lookup(connID)
	if err != nil {
		return err
	}
	if err := c.write(data, h.writeTimeout); err != nil {
		return fmt.Errorf("send to %d: %w", c.id, err)
	}
	return nil
}

// SendAll implements dispatch.Dispatcher. Failed sockets do not stop the
// fan-out; their errors are joined.
func (h *Hub) SendAll(ctx context.Context, data []byte) error {
	return h.fanOut(ctx, h.snapshot(0), data)
}

// SendAllExcept implements dispatch.Dispatcher.
func (h *Hub) SendAllExcept(ctx context.Context, connID string, data []byte) error {
	id, err := protocol.ParseConnectionID(connID)
	if err != nil {
		return err
	}
	return h.fanOut(ctx, h.snapshot(id), data)
}

func (h *Hub) fanOut(ctx context.Context, targets []*conn, data []byte) error {
	var errs []error
	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.write(data, h.writeTimeout); err != nil {
			errs = append(errs, fmt.Errorf("send to %d: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// Ping sends a ping control frame to every socket.
func (h *Hub) Ping(_ context.Context) error {
	var errs []error
	for _, c := range h.snapshot(0) {
		if err := c.ping(h.writeTimeout); err != nil {
			errs = append(errs, fmt.Errorf("ping %d: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// CloseConnection closes one socket.
func (h *Hub) CloseConnection(connID string) error {
	c, err := h.lookup(connID)
	if err != nil {
		return err
	}
	c.close(websocket.CloseNormalClosure, "closed by server")
	return nil
}

// Close disconnects every socket and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
