package slip

import "time"

// FrameStatus tells how a frame was finalized.
type FrameStatus int

const (
	// FrameComplete is a frame terminated by an END delimiter.
	FrameComplete FrameStatus = iota
	// FrameTruncated is a frame still open when the stream ended.
	FrameTruncated
	// FrameInvalidEscape is a frame cut short by an ESC followed by a
	// byte that is neither ESC_END nor ESC_ESC.
	FrameInvalidEscape
)

// String returns a short human-readable name for the status.
func (s FrameStatus) String() string {
	switch s {
	case FrameComplete:
		return "complete"
	case FrameTruncated:
		return "truncated at stream end"
	case FrameInvalidEscape:
		return "invalid escape"
	default:
		return "unknown"
	}
}

// RawFrame is one SLIP-delimited unit with unescaped payload bytes.
// StartTime is the timestamp of the first byte that opened the frame,
// EndTime the timestamp of the byte that closed it (delimiter, offending
// escape byte, or last byte seen before stream end).
type RawFrame struct {
	Payload   []byte
	StartTime time.Time
	EndTime   time.Time
	Status    FrameStatus
}

type decoderState int

const (
	stateIdle decoderState = iota
	stateInFrame
	stateEscaped
)

// Decoder is a streaming SLIP framer. Feed it one timestamped byte at a
// time; it returns at most one finished frame per byte. A malformed frame
// resets the machine to idle, so decoding continues with the next byte.
//
// Decoder is not safe for concurrent use; bytes must arrive in order.
type Decoder struct {
	state decoderState
	buf   []byte
	start time.Time
}

// NewDecoder returns a Decoder in the idle state.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one byte and returns the frame it finished, or nil.
func (d *Decoder) Feed(b byte, ts time.Time) *RawFrame {
	switch d.state {
	case stateIdle:
		switch b {
		case End:
			// Leading or redundant delimiter
			return nil
		case Esc:
			d.start = ts
			d.state = stateEscaped
			return nil
		default:
			d.start = ts
			d.buf = append(d.buf, b)
			d.state = stateInFrame
			return nil
		}

	case stateInFrame:
		switch b {
		case End:
			return d.finalize(FrameComplete, ts)
		case Esc:
			d.state = stateEscaped
			return nil
		default:
			d.buf = append(d.buf, b)
			return nil
		}

	case stateEscaped:
		switch b {
		case EscEnd:
			d.buf = append(d.buf, End)
			d.state = stateInFrame
			return nil
		case EscEsc:
			d.buf = append(d.buf, Esc)
			d.state = stateInFrame
			return nil
		default:
			// Offending byte is consumed but not part of the payload
			return d.finalize(FrameInvalidEscape, ts)
		}
	}

	return nil
}

// Flush finalizes a pending partial frame at end of stream. It returns the
// truncated frame, or nil if the decoder was idle. The decoder is reset to
// idle either way.
func (d *Decoder) Flush(ts time.Time) *RawFrame {
	if d.state == stateIdle {
		return nil
	}
	return d.finalize(FrameTruncated, ts)
}

// Reset discards any buffered partial frame and returns to idle.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buf = nil
	d.start = time.Time{}
}

func (d *Decoder) finalize(status FrameStatus, ts time.Time) *RawFrame {
	frame := &RawFrame{
		Payload:   d.buf,
		StartTime: d.start,
		EndTime:   ts,
		Status:    status,
	}
	d.state = stateIdle
	d.buf = nil
	d.start = time.Time{}
	return frame
}
