package decode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/slipdump/internal/ipv4"
	"github.com/bigbag/slipdump/internal/slip"
)

// Wikipedia's worked IPv4 example: UDP from 192.168.0.1:1234 to
// 192.168.0.199:53 with a correct header checksum.
var udpDatagram = []byte{
	0x45, 0x00, 0x00, 0x1C, 0x1C, 0x46, 0x40, 0x00,
	0x40, 0x11, 0xB1, 0xE6, 0xC0, 0xA8, 0x00, 0x01,
	0xC0, 0xA8, 0x00, 0xC7,
	0x04, 0xD2, 0x00, 0x35, 0x00, 0x08, 0x00, 0x00,
}

func tick(i int) time.Time {
	return time.Unix(0, 0).Add(time.Duration(i) * time.Microsecond)
}

func decodeAll(d *Decoder, stream []byte) []*DecodedFrame {
	var frames []*DecodedFrame
	for i, b := range stream {
		if f := d.Feed(b, tick(i)); f != nil {
			frames = append(frames, f)
		}
	}
	if f := d.Flush(tick(len(stream))); f != nil {
		frames = append(frames, f)
	}
	return frames
}

func TestDecoder_UDPDatagram(t *testing.T) {
	d := NewDecoder(Options{})
	frames := decodeAll(d, slip.Encode(udpDatagram))
	require.Len(t, frames, 1)

	f := frames[0]
	require.Equal(t, KindIPv4, f.Kind)
	require.NotNil(t, f.Header)
	assert.Equal(t, uint8(4), f.Header.Version)
	assert.Equal(t, uint8(5), f.Header.HeaderLen)
	assert.Equal(t, uint16(28), f.Header.TotalLength)
	assert.Equal(t, uint8(ipv4.ProtocolUDP), f.Header.Protocol)
	assert.Equal(t, "192.168.0.1", f.Header.SrcAddr.String())
	assert.Equal(t, "192.168.0.199", f.Header.DstAddr.String())

	require.NotNil(t, f.Ports)
	assert.Equal(t, uint16(1234), f.Ports.SrcPort)
	assert.Equal(t, uint16(53), f.Ports.DstPort)
	assert.Empty(t, f.Warnings)

	s := f.Summary()
	assert.Contains(t, s, "192.168.0.1 -> 192.168.0.199")
	assert.Contains(t, s, "UDP")
	assert.Contains(t, s, "len=28")
	assert.Contains(t, s, "ttl=64")
	assert.Contains(t, s, "ports 1234 -> 53")
}

func TestDecoder_InvalidEscapeIsolated(t *testing.T) {
	// One invalid-escape frame followed by one good frame; both must be
	// reported, in order.
	stream := []byte{
		slip.End, 0x01, 0x02, slip.Esc, 0xFF,
		slip.End, 0x03, 0x04, slip.End,
	}
	d := NewDecoder(Options{})
	frames := decodeAll(d, stream)
	require.Len(t, frames, 2)

	assert.Equal(t, KindSlipError, frames[0].Kind)
	assert.Equal(t, slip.FrameInvalidEscape, frames[0].Raw.Status)
	assert.Contains(t, frames[0].Summary(), "invalid escape")

	assert.Equal(t, KindNonIPv4, frames[1].Kind)
	assert.Equal(t, []byte{0x03, 0x04}, frames[1].Raw.Payload)
}

func TestDecoder_TruncatedAtStreamEnd(t *testing.T) {
	d := NewDecoder(Options{})
	frames := decodeAll(d, []byte{slip.End, 0x01, 0x02})
	require.Len(t, frames, 1)

	assert.Equal(t, KindSlipError, frames[0].Kind)
	assert.Equal(t, slip.FrameTruncated, frames[0].Raw.Status)
	assert.Contains(t, frames[0].Summary(), "truncated at stream end")
}

func TestDecoder_NonIPv4Reasons(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		reason  ipv4.Reason
	}{
		{
			name:    "too short",
			payload: make([]byte, 10),
			reason:  ipv4.ReasonHeaderTooShort,
		},
		{
			name:    "version 6",
			payload: append([]byte{0x66}, make([]byte, 19)...),
			reason:  ipv4.ReasonUnsupportedVersion,
		},
		{
			name:    "header length overflow",
			payload: append([]byte{0x4F}, make([]byte, 19)...),
			reason:  ipv4.ReasonHeaderLengthOverflow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDecoder(Options{})
			frames := decodeAll(d, slip.Encode(tc.payload))
			require.Len(t, frames, 1)
			assert.Equal(t, KindNonIPv4, frames[0].Kind)
			assert.Equal(t, tc.reason, frames[0].Reason)
			assert.Contains(t, frames[0].Summary(), string(tc.reason))
		})
	}
}

func TestDecoder_ChecksumWarning(t *testing.T) {
	corrupted := append([]byte{}, udpDatagram...)
	corrupted[8] = 63 // TTL changed, checksum now stale

	// Disabled: no warning
	d := NewDecoder(Options{})
	frames := decodeAll(d, slip.Encode(corrupted))
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Warnings)

	// Enabled: warning appended, frame still decoded
	d = NewDecoder(Options{VerifyChecksum: true})
	frames = decodeAll(d, slip.Encode(corrupted))
	require.Len(t, frames, 1)
	require.Equal(t, KindIPv4, frames[0].Kind)
	assert.Contains(t, frames[0].Warnings, ipv4.WarnBadChecksum)
	assert.Contains(t, frames[0].Summary(), string(ipv4.WarnBadChecksum))

	// Enabled with a valid checksum: clean
	d = NewDecoder(Options{VerifyChecksum: true})
	frames = decodeAll(d, slip.Encode(udpDatagram))
	require.Len(t, frames, 1)
	assert.Empty(t, frames[0].Warnings)
}

func TestDecoder_TotalLengthMismatchWarning(t *testing.T) {
	// Header only: total length claims 28 bytes, 20 captured
	d := NewDecoder(Options{})
	frames := decodeAll(d, slip.Encode(udpDatagram[:20]))
	require.Len(t, frames, 1)
	require.Equal(t, KindIPv4, frames[0].Kind)
	assert.Contains(t, frames[0].Warnings, ipv4.WarnTotalLengthMismatch)
	assert.Contains(t, frames[0].Summary(), string(ipv4.WarnTotalLengthMismatch))
}

func TestDecoder_ChunkEquivalence(t *testing.T) {
	// Feeding one byte per call and feeding the whole stream as a single
	// chunk must produce the same records.
	var stream []byte
	stream = append(stream, slip.Encode(udpDatagram)...)
	stream = append(stream, slip.Encode([]byte{0xDE, 0xAD})...)
	stream = append(stream, slip.End, 0x01, slip.Esc, 0x00) // invalid escape

	byByte := decodeAll(NewDecoder(Options{}), stream)

	chunked := NewDecoder(Options{})
	ts := tick(0)
	got := chunked.FeedChunk(stream, ts)
	if f := chunked.Flush(ts); f != nil {
		got = append(got, f)
	}

	require.Equal(t, len(byByte), len(got))
	for i := range byByte {
		assert.Equal(t, byByte[i].Kind, got[i].Kind, "frame %d kind", i)
		assert.Equal(t, byByte[i].Raw.Status, got[i].Raw.Status, "frame %d status", i)
		assert.Equal(t, byByte[i].Raw.Payload, got[i].Raw.Payload, "frame %d payload", i)
		assert.Equal(t, byByte[i].Summary(), got[i].Summary(), "frame %d summary", i)
	}
}

func TestDecoder_OneRecordPerFrame(t *testing.T) {
	// Mixed garbage and good frames: the record count must match the
	// frame count exactly, preserving the audit trail.
	var stream []byte
	stream = append(stream, slip.End, slip.End)                  // idle noise
	stream = append(stream, slip.Encode(udpDatagram)...)         // IPv4
	stream = append(stream, slip.End, 0xAA, slip.Esc, 0xBB)      // invalid escape
	stream = append(stream, slip.Encode([]byte{0x01, 0x02})...)  // non-IPv4
	stream = append(stream, slip.End, 0x05)                      // truncated

	frames := decodeAll(NewDecoder(Options{}), stream)
	require.Len(t, frames, 4)
	assert.Equal(t, KindIPv4, frames[0].Kind)
	assert.Equal(t, KindSlipError, frames[1].Kind)
	assert.Equal(t, KindNonIPv4, frames[2].Kind)
	assert.Equal(t, KindSlipError, frames[3].Kind)
	assert.Equal(t, slip.FrameTruncated, frames[3].Raw.Status)
}
