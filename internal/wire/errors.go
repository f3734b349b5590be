package wire

import "github.com/rotisserie/eris"

var (
	// ErrShortBuffer is returned when a read runs past the end of the data.
	ErrShortBuffer = eris.New("wire: short buffer")
	// ErrOversized is returned when a length prefix exceeds the configured limits.
	ErrOversized = eris.New("wire: oversized field")
	// ErrInvalidFlags is returned when a bitmask carries bits the reader does not understand.
	ErrInvalidFlags = eris.New("wire: invalid flags")
	// ErrMalformed is returned when well-formed fields describe an impossible value.
	ErrMalformed = eris.New("wire: malformed payload")
)

// IsProtocolViolation reports whether err originated from malformed wire data.
func IsProtocolViolation(err error) bool {
	return eris.Is(err, ErrShortBuffer) || eris.Is(err, ErrOversized) || eris.Is(err, ErrInvalidFlags) || eris.Is(err, ErrMalformed)
}
