package tunnel

import "sync/atomic"

// SeqGen hands out request and packet ids. It is shared between callback
// goroutines, so all operations are atomic.
type SeqGen struct {
	val atomic.Uint64
}

// NewSeqGen creates a new sequence generator starting at 0.
// The first call to Next() returns 1.
func NewSeqGen() *SeqGen {
	return &SeqGen{}
}

// Next returns the next sequence number (monotonically increasing from 1).
func (s *SeqGen) Next() uint64 {
	return s.val.Add(1)
}
