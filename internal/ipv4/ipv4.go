// Package ipv4 extracts RFC 791 header fields from raw datagram bytes.
//
// Parsing is deliberately tolerant: anything that is not provably an IPv4
// header is reported with a typed reason instead of a generic error, and a
// total-length disagreement with the captured byte count is a warning, not a
// failure, since link layers routinely pad or strip trailing bytes.
package ipv4

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
)

// Transport protocol numbers we extract ports for.
const (
	ProtocolTCP = 6
	ProtocolUDP = 17
)

// headerMinLen is the fixed IPv4 header size in bytes (IHL of 5 words).
const headerMinLen = 20

// Reason classifies why a payload could not be parsed as IPv4.
type Reason string

const (
	ReasonHeaderTooShort       Reason = "header too short"
	ReasonUnsupportedVersion   Reason = "unsupported version"
	ReasonHeaderLengthOverflow Reason = "header length overflow"
)

// ParseError is a hard parse failure carrying its classification.
type ParseError struct {
	Reason Reason
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Warning is a non-fatal observation about an otherwise valid header.
type Warning string

const (
	// WarnTotalLengthMismatch means the header's total length field claims
	// more bytes than the frame actually carries.
	WarnTotalLengthMismatch Warning = "total length exceeds captured bytes"
	// WarnBadChecksum means the header checksum did not verify.
	WarnBadChecksum Warning = "header checksum mismatch"
)

// Header holds the parsed IPv4 header fields in host representation.
// HeaderLen is the IHL field, in 32-bit words (4..15).
type Header struct {
	Version        uint8
	HeaderLen      uint8
	TotalLength    uint16
	Identification uint16
	Flags          uint8
	FragmentOffset uint16
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	SrcAddr        netip.Addr
	DstAddr        netip.Addr
	Options        []byte
}

// HeaderBytes returns the header length in bytes.
func (h *Header) HeaderBytes() int {
	return int(h.HeaderLen) * 4
}

// TransportPorts are the first four bytes of a TCP or UDP header.
type TransportPorts struct {
	SrcPort uint16
	DstPort uint16
}

// Parse interprets payload as an IPv4 datagram. On success it returns the
// header plus any warnings. On failure the error is a *ParseError naming
// the reason; the payload is then better treated as opaque bytes.
func Parse(payload []byte) (*Header, []Warning, error) {
	if len(payload) < headerMinLen {
		return nil, nil, &ParseError{
			Reason: ReasonHeaderTooShort,
			Detail: fmt.Sprintf("%d bytes, need %d", len(payload), headerMinLen),
		}
	}

	version := payload[0] >> 4
	if version != 4 {
		return nil, nil, &ParseError{
			Reason: ReasonUnsupportedVersion,
			Detail: fmt.Sprintf("version %d", version),
		}
	}

	headerLen := payload[0] & 0x0F
	headerBytes := int(headerLen) * 4
	if headerBytes > len(payload) {
		return nil, nil, &ParseError{
			Reason: ReasonHeaderLengthOverflow,
			Detail: fmt.Sprintf("declared %d bytes, have %d", headerBytes, len(payload)),
		}
	}

	flagsFrag := binary.BigEndian.Uint16(payload[6:8])

	h := &Header{
		Version:        version,
		HeaderLen:      headerLen,
		TotalLength:    binary.BigEndian.Uint16(payload[2:4]),
		Identification: binary.BigEndian.Uint16(payload[4:6]),
		Flags:          uint8(flagsFrag >> 13),
		FragmentOffset: flagsFrag & 0x1FFF,
		TTL:            payload[8],
		Protocol:       payload[9],
		Checksum:       binary.BigEndian.Uint16(payload[10:12]),
		SrcAddr:        netip.AddrFrom4([4]byte(payload[12:16])),
		DstAddr:        netip.AddrFrom4([4]byte(payload[16:20])),
	}

	if headerBytes > headerMinLen {
		h.Options = payload[headerMinLen:headerBytes]
	}

	var warnings []Warning
	if int(h.TotalLength) > len(payload) {
		warnings = append(warnings, WarnTotalLengthMismatch)
	}

	return h, warnings, nil
}

// VerifyChecksum recomputes the ones' complement sum over the header bytes
// of payload and reports whether it verifies. The caller must have parsed
// payload successfully first, so the header length is trustworthy.
func VerifyChecksum(h *Header, payload []byte) bool {
	headerBytes := h.HeaderBytes()
	if headerBytes > len(payload) {
		return false
	}

	var sum uint32
	for i := 0; i < headerBytes; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(payload[i : i+2]))
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	// A valid header sums to all ones including the checksum field
	return uint16(sum) == 0xFFFF
}

// Ports extracts the transport source/destination ports that follow the
// IPv4 header in payload. The second return is false when the protocol is
// not TCP/UDP or too few bytes remain; that is not an error.
func Ports(h *Header, payload []byte) (*TransportPorts, bool) {
	if h.Protocol != ProtocolTCP && h.Protocol != ProtocolUDP {
		return nil, false
	}

	rest := payload[h.HeaderBytes():]
	if len(rest) < 4 {
		return nil, false
	}

	return &TransportPorts{
		SrcPort: binary.BigEndian.Uint16(rest[0:2]),
		DstPort: binary.BigEndian.Uint16(rest[2:4]),
	}, true
}

// ProtocolName names TCP and UDP; everything else is shown by number.
func ProtocolName(p uint8) string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return strconv.Itoa(int(p))
	}
}
