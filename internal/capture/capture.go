// Package capture supplies timestamped byte streams to the decoder.
//
// Every source yields (byte, timestamp) pairs in arrival order and ends
// with io.EOF. Timestamps are opaque to the decoder; they only flow into
// the emitted frame records.
package capture

import (
	"bufio"
	"io"
	"time"
)

// Byte is one captured byte with its arrival timestamp.
type Byte struct {
	Value byte
	Time  time.Time
}

// Source yields captured bytes in order, returning io.EOF when exhausted.
type Source interface {
	Next() (Byte, error)
}

// RawSource reads a plain binary stream. The stream carries no timing, so
// byte i is mapped onto a synthetic timeline at base + i microseconds; that
// keeps start/end ordering meaningful without pretending to wall-clock
// accuracy.
type RawSource struct {
	r     *bufio.Reader
	base  time.Time
	index int64
}

// NewRawSource wraps r in a RawSource with the given timeline base.
func NewRawSource(r io.Reader, base time.Time) *RawSource {
	return &RawSource{
		r:    bufio.NewReader(r),
		base: base,
	}
}

// Next returns the next byte of the stream.
func (s *RawSource) Next() (Byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return Byte{}, err
	}
	ts := s.base.Add(time.Duration(s.index) * time.Microsecond)
	s.index++
	return Byte{Value: b, Time: ts}, nil
}
