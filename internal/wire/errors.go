package wire

import "errors"

// Sentinel codec errors, checked by callers with errors.Is.
var (
	// ErrTruncated is returned when a decode would read past the end of the
	// supplied buffer.
	ErrTruncated = errors.New("wire: truncated buffer")

	// ErrTrailingGarbage is returned when a record stream decode leaves
	// unconsumed bytes in the buffer.
	ErrTrailingGarbage = errors.New("wire: trailing garbage after record stream")

	// ErrUnknownValueType is returned when a record's type byte is outside
	// the known ValueType range.
	ErrUnknownValueType = errors.New("wire: unknown value type")
)
