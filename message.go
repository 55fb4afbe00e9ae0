package kephasrpc

import (
	"bytes"
	"io"
)

// RawJSON is an already encoded JSON value. It is written to the wire
// verbatim and never validated.
type RawJSON []byte

// Message is an encoded envelope made of one or more byte segments.
//
// Segments let a generically encoded prefix be combined with a large
// pre-serialized tail without copying either. The segments of a Message must
// not be modified after it is handed to a Transport; use Duplicate to obtain
// an independent copy.
type Message [][]byte

// Len returns the total length in bytes.
func (m Message) Len() int {
	n := 0
	for _, seg := range m {
		n += len(seg)
	}
	return n
}

// Bytes returns the message as one contiguous slice. A single-segment message
// is returned without copying.
func (m Message) Bytes() []byte {
	if len(m) == 1 {
		return m[0]
	}
	out := make([]byte, 0, m.Len())
	for _, seg := range m {
		out = append(out, seg...)
	}
	return out
}

// Duplicate returns a deep copy that shares no memory with m.
func (m Message) Duplicate() Message {
	dup := make(Message, len(m))
	for i, seg := range m {
		dup[i] = bytes.Clone(seg)
	}
	return dup
}

// WriteTo writes every segment to w in order.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, seg := range m {
		n, err := w.Write(seg)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
