package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header sizes, kind byte included.
const (
	RequestHeaderSize = 1 + 8 + 8         // Kind + RequestID + ConnID
	PacketHeaderSize  = 1 + 8 + 8 + 1 + 16 // Kind + RequestID + PacketID + Flags + ExceptID + OnlyID
	ErrorHeaderSize   = 1 + 8 + 8         // Kind + RequestID + ConnID
)

// PacketFrame flag bits.
const (
	flagBroadcast uint8 = 1 << iota
	flagExcept
	flagOnly
)

// Encode serializes a Message for transmission over the tunnel link.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		buf := make([]byte, RequestHeaderSize+len(m.Body))
		buf[0] = byte(KindRequest)
		binary.BigEndian.PutUint64(buf[1:9], m.RequestID)
		binary.BigEndian.PutUint64(buf[9:17], uint64(m.ConnID))
		copy(buf[RequestHeaderSize:], m.Body)
		return buf, nil

	case *PacketFrame:
		if err := m.Validate(); err != nil {
			return nil, err
		}
		buf := make([]byte, PacketHeaderSize+len(m.Message))
		buf[0] = byte(KindPacket)
		binary.BigEndian.PutUint64(buf[1:9], m.RequestID)
		binary.BigEndian.PutUint64(buf[9:17], m.PacketID)
		var flags uint8
		if m.Broadcast {
			flags |= flagBroadcast
		}
		if m.ExceptID != nil {
			flags |= flagExcept
			binary.BigEndian.PutUint64(buf[18:26], uint64(*m.ExceptID))
		}
		if m.OnlyID != nil {
			flags |= flagOnly
			binary.BigEndian.PutUint64(buf[26:34], uint64(*m.OnlyID))
		}
		buf[17] = flags
		copy(buf[PacketHeaderSize:], m.Message)
		return buf, nil

	case *ErrorFrame:
		buf := make([]byte, ErrorHeaderSize+len(m.Reason))
		buf[0] = byte(KindError)
		binary.BigEndian.PutUint64(buf[1:9], m.RequestID)
		binary.BigEndian.PutUint64(buf[9:17], uint64(m.ConnID))
		copy(buf[ErrorHeaderSize:], m.Reason)
		return buf, nil

	default:
		return nil, fmt.Errorf("cannot encode message of type %T", msg)
	}
}

// Decode deserializes a byte slice produced by Encode.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	kind := Kind(data[0])
	switch kind {
	case KindRequest:
		if len(data) < RequestHeaderSize {
			return nil, shortErr(kind, len(data), RequestHeaderSize)
		}
		return &Request{
			RequestID: binary.BigEndian.Uint64(data[1:9]),
			ConnID:    ConnectionID(binary.BigEndian.Uint64(data[9:17])),
			Body:      clone(data[RequestHeaderSize:]),
		}, nil

	case KindPacket:
		if len(data) < PacketHeaderSize {
			return nil, shortErr(kind, len(data), PacketHeaderSize)
		}
		flags := data[17]
		f := &PacketFrame{
			RequestID: binary.BigEndian.Uint64(data[1:9]),
			PacketID:  binary.BigEndian.Uint64(data[9:17]),
			Broadcast: flags&flagBroadcast != 0,
			Message:   clone(data[PacketHeaderSize:]),
		}
		if flags&flagExcept != 0 {
			f.ExceptID = ConnRef(ConnectionID(binary.BigEndian.Uint64(data[18:26])))
		}
		if flags&flagOnly != 0 {
			f.OnlyID = ConnRef(ConnectionID(binary.BigEndian.Uint64(data[26:34])))
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		return f, nil

	case KindError:
		if len(data) < ErrorHeaderSize {
			return nil, shortErr(kind, len(data), ErrorHeaderSize)
		}
		return &ErrorFrame{
			RequestID: binary.BigEndian.Uint64(data[1:9]),
			ConnID:    ConnectionID(binary.BigEndian.Uint64(data[9:17])),
			Reason:    string(data[ErrorHeaderSize:]),
		}, nil

	default:
		return nil, fmt.Errorf("unknown message kind 0x%02x", data[0])
	}
}

func shortErr(kind Kind, got, need int) error {
	return fmt.Errorf("%s message too short: %d bytes (need at least %d)", kind, got, need)
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
