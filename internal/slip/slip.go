package slip

// SLIP special bytes (RFC 1055).
const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// Encode wraps data in SLIP framing.
// Adds END byte at start and end, escapes special bytes.
func Encode(data []byte) []byte {
	// Pre-allocate with some extra space for escapes
	result := make([]byte, 0, len(data)+10)
	result = append(result, End)

	for _, b := range data {
		switch b {
		case End:
			result = append(result, Esc, EscEnd)
		case Esc:
			result = append(result, Esc, EscEsc)
		default:
			result = append(result, b)
		}
	}

	result = append(result, End)
	return result
}
