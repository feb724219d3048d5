package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ConnectionID identifies one logical websocket endpoint on a hub: either a
// directly connected client or a tunnel's virtual slot. On the outside it is
// carried as a decimal string.
type ConnectionID uint64

// String returns the decimal form used by dispatchers.
func (id ConnectionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ConnRef returns a pointer to id, for the optional filter fields of PacketFrame.
func ConnRef(id ConnectionID) *ConnectionID {
	return &id
}

// ErrInvalidJSON is wrapped by a ParseError when a payload is not JSON text.
var ErrInvalidJSON = errors.New("invalid JSON payload")

// ParseError reports malformed caller input: a non-numeric connection id or a
// payload that is not JSON. It is recoverable; callers inspect it with errors.As.
type ParseError struct {
	Field string // "connection id" or "payload"
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if len(e.Input) > 64 {
		return fmt.Sprintf("parse %s %q...: %v", e.Field, e.Input[:64], e.Err)
	}
	return fmt.Sprintf("parse %s %q: %v", e.Field, e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseConnectionID parses a decimal, non-negative connection id.
func ParseConnectionID(s string) (ConnectionID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, &ParseError{Field: "connection id", Input: s, Err: err}
	}
	return ConnectionID(n), nil
}

// ValidatePayload checks that data is a single well-formed JSON value.
func ValidatePayload(data []byte) error {
	if !json.Valid(data) {
		return &ParseError{Field: "payload", Input: string(data), Err: ErrInvalidJSON}
	}
	return nil
}

// envelope is the body carried by a forwarded packet.
type envelope struct {
	RequestID uint64          `json:"request_id"`
	Body      json.RawMessage `json:"body"`
}

// WrapBody encloses data as {"request_id": requestID, "body": <data>}.
func WrapBody(requestID uint64, data []byte) ([]byte, error) {
	if err := ValidatePayload(data); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{RequestID: requestID, Body: json.RawMessage(data)})
}

// UnwrapBody is the inverse of WrapBody.
func UnwrapBody(wrapped []byte) (uint64, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(wrapped, &env); err != nil {
		return 0, nil, &ParseError{Field: "payload", Input: string(wrapped), Err: err}
	}
	return env.RequestID, env.Body, nil
}
