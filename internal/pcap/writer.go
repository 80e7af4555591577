// Package pcap exports decoded IPv4 frames to a pcap capture file so the
// traffic can be inspected with standard tooling.
package pcap

import (
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/bigbag/slipdump/internal/decode"
)

// snapLen is the per-packet capture limit advertised in the file header.
// SLIP frames are far below this in practice.
const snapLen = 65536

// Writer streams decoded frames into a pcap file with the raw-IP link
// type. Only IPv4 frames are written: LINKTYPE_RAW admits nothing else,
// so framing errors and non-IP payloads are counted and skipped.
type Writer struct {
	w       *pcapgo.Writer
	written int
	skipped int
}

// NewWriter writes the pcap file header to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// WriteFrame appends one decoded frame to the capture. Non-IPv4 frames
// are skipped without error.
func (w *Writer) WriteFrame(f *decode.DecodedFrame) error {
	if f.Kind != decode.KindIPv4 {
		w.skipped++
		return nil
	}

	length := len(f.Raw.Payload)
	if total := int(f.Header.TotalLength); total > length {
		// The datagram was longer on the wire than what we captured
		length = total
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     f.Raw.StartTime,
		CaptureLength: len(f.Raw.Payload),
		Length:        length,
	}
	if err := w.w.WritePacket(ci, f.Raw.Payload); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	w.written++
	return nil
}

// Written returns the number of packets written so far.
func (w *Writer) Written() int {
	return w.written
}

// Skipped returns the number of non-IPv4 frames that were not written.
func (w *Writer) Skipped() int {
	return w.skipped
}
