// Package decode turns SLIP frames into per-packet records.
//
// It drives the slip framer and, for each finished frame, classifies it as
// a framing error, an IPv4 datagram, or opaque non-IPv4 bytes. Every input
// frame yields exactly one record; a bad frame never stops the stream.
package decode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bigbag/slipdump/internal/ipv4"
	"github.com/bigbag/slipdump/internal/slip"
)

// Kind discriminates the variants of a DecodedFrame.
type Kind int

const (
	// KindSlipError is a frame that did not survive SLIP framing.
	KindSlipError Kind = iota
	// KindIPv4 is a frame whose payload parsed as an IPv4 datagram.
	KindIPv4
	// KindNonIPv4 is a complete frame whose payload is not IPv4.
	KindNonIPv4
)

// Options control per-frame processing.
type Options struct {
	// VerifyChecksum enables IPv4 header checksum verification; a failure
	// is reported as a warning, never as a rejection.
	VerifyChecksum bool
}

// DecodedFrame is one fully processed SLIP frame. Exactly one variant is
// meaningful, selected by Kind: the raw frame status for KindSlipError, the
// parse reason plus raw payload for KindNonIPv4, and the header with
// optional ports for KindIPv4. Values are not mutated after emission.
type DecodedFrame struct {
	Raw  slip.RawFrame
	Kind Kind

	// KindNonIPv4 only
	Reason ipv4.Reason

	// KindIPv4 only
	Header   *ipv4.Header
	Ports    *ipv4.TransportPorts
	Warnings []ipv4.Warning
}

// Decoder runs the full per-frame pipeline over a timestamped byte stream.
// Like slip.Decoder it is synchronous and single-stream: one Feed call per
// byte, at most one record out.
type Decoder struct {
	framer *slip.Decoder
	opts   Options
}

// NewDecoder returns a Decoder with the given options.
func NewDecoder(opts Options) *Decoder {
	return &Decoder{
		framer: slip.NewDecoder(),
		opts:   opts,
	}
}

// Feed consumes one byte and returns the record it completed, or nil.
func (d *Decoder) Feed(b byte, ts time.Time) *DecodedFrame {
	raw := d.framer.Feed(b, ts)
	if raw == nil {
		return nil
	}
	return d.assemble(raw)
}

// FeedChunk consumes a batch of bytes that share one arrival timestamp (a
// serial read returns chunks, not bytes) and returns the completed records
// in order.
func (d *Decoder) FeedChunk(p []byte, ts time.Time) []*DecodedFrame {
	var frames []*DecodedFrame
	for _, b := range p {
		if f := d.Feed(b, ts); f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

// Flush finalizes a pending partial frame at end of stream, returning its
// record or nil if no frame was open.
func (d *Decoder) Flush(ts time.Time) *DecodedFrame {
	raw := d.framer.Flush(ts)
	if raw == nil {
		return nil
	}
	return d.assemble(raw)
}

func (d *Decoder) assemble(raw *slip.RawFrame) *DecodedFrame {
	out := &DecodedFrame{Raw: *raw}

	if raw.Status != slip.FrameComplete {
		out.Kind = KindSlipError
		return out
	}

	header, warnings, err := ipv4.Parse(raw.Payload)
	if err != nil {
		out.Kind = KindNonIPv4
		var perr *ipv4.ParseError
		if errors.As(err, &perr) {
			out.Reason = perr.Reason
		}
		return out
	}

	out.Kind = KindIPv4
	out.Header = header
	out.Warnings = warnings
	if d.opts.VerifyChecksum && !ipv4.VerifyChecksum(header, raw.Payload) {
		out.Warnings = append(out.Warnings, ipv4.WarnBadChecksum)
	}
	if ports, ok := ipv4.Ports(header, raw.Payload); ok {
		out.Ports = ports
	}
	return out
}

// Summary renders the one-line human-readable record for the frame.
func (f *DecodedFrame) Summary() string {
	switch f.Kind {
	case KindSlipError:
		return fmt.Sprintf("SLIP error: %s (%d bytes buffered)",
			f.Raw.Status, len(f.Raw.Payload))

	case KindNonIPv4:
		return fmt.Sprintf("non-IPv4 (%s): %s", f.Reason, hexDump(f.Raw.Payload))

	case KindIPv4:
		var sb strings.Builder
		fmt.Fprintf(&sb, "IPv4 %s -> %s %s len=%d ttl=%d",
			f.Header.SrcAddr, f.Header.DstAddr,
			ipv4.ProtocolName(f.Header.Protocol),
			f.Header.TotalLength, f.Header.TTL)
		if f.Ports != nil {
			fmt.Fprintf(&sb, " ports %d -> %d", f.Ports.SrcPort, f.Ports.DstPort)
		}
		for _, w := range f.Warnings {
			fmt.Fprintf(&sb, " [%s]", w)
		}
		return sb.String()

	default:
		return "unknown frame"
	}
}

// hexDump formats payload bytes for manual inspection, capped so one
// garbage frame cannot flood the output.
func hexDump(p []byte) string {
	const maxBytes = 48
	if len(p) == 0 {
		return "<empty>"
	}
	if len(p) <= maxBytes {
		return fmt.Sprintf("% X", p)
	}
	return fmt.Sprintf("% X ... (%d bytes total)", p[:maxBytes], len(p))
}
