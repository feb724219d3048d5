// Package room is the chat-style application served by the hub. It only talks
// to a dispatch.Dispatcher, so the same code serves local clients (through the
// hub) and tunnel clients (through a relay).
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/1ureka/wsrelay/internal/dispatch"
	"github.com/1ureka/wsrelay/internal/protocol"
)

// Actions understood by Handle.
const (
	ActionEcho      = "echo"      // back to the sender
	ActionBroadcast = "broadcast" // everyone but the sender
	ActionAll       = "all"       // everyone, sender included
	ActionDirect    = "direct"    // one connection, named by To
	ActionPing      = "ping"      // liveness probe, no payload delivered
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingTarget = errors.New("direct message without target")
)

// Command is the JSON envelope a client sends.
type Command struct {
	Action string          `json:"action"`
	To     string          `json:"to,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Delivery is the JSON payload handed to the dispatcher.
type Delivery struct {
	From string          `json:"from"`
	Body json.RawMessage `json:"body"`
}

// Handle parses one message from connection from and dispatches it.
func Handle(ctx context.Context, d dispatch.Dispatcher, from protocol.ConnectionID, data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return &protocol.ParseError{Field: "payload", Input: string(data), Err: err}
	}

	if cmd.Action == ActionPing {
		return d.Ping(ctx)
	}

	body := cmd.Body
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	out, err := json.Marshal(Delivery{From: from.String(), Body: body})
	if err != nil {
		return err
	}

	switch cmd.Action {
	case ActionEcho:
		return d.Send(ctx, from.String(), out)
	case ActionBroadcast:
		return d.SendAllExcept(ctx, from.String(), out)
	case ActionAll:
		return d.SendAll(ctx, out)
	case ActionDirect:
		if cmd.To == "" {
			return ErrMissingTarget
		}
		return d.Send(ctx, cmd.To, out)
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, cmd.Action)
	}
}
