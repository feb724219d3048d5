// Package dispatchtest provides a recording Dispatcher for tests.
package dispatchtest

import (
	"context"
	"sync"

	"github.com/1ureka/wsrelay/internal/dispatch"
)

var _ dispatch.Dispatcher = (*Recorder)(nil)

// Call is one recorded Dispatcher invocation. ConnID is empty for SendAll and Ping.
type Call struct {
	Method string
	ConnID string
	Data   string
}

// Recorder records every call and answers with Err.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	// Err, if set, is returned by every method.
	Err error
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.Err
}

func (r *Recorder) Send(_ context.Context, connID string, data []byte) error {
	return r.record(Call{Method: "Send", ConnID: connID, Data: string(data)})
}

func (r *Recorder) SendAll(_ context.Context, data []byte) error {
	return r.record(Call{Method: "SendAll", Data: string(data)})
}

func (r *Recorder) SendAllExcept(_ context.Context, connID string, data []byte) error {
	return r.record(Call{Method: "SendAllExcept", ConnID: connID, Data: string(data)})
}

func (r *Recorder) Ping(context.Context) error {
	return r.record(Call{Method: "Ping"})
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
