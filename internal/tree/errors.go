package tree

import "errors"

var (
	// ErrDanglingReference is returned when a Record names a child id that is
	// not yet present in the store — a fatal protocol error (spec §7).
	ErrDanglingReference = errors.New("tree: dangling reference")

	// ErrValueTypeChanged is returned when a Record would change the
	// declared value type of an existing node, which spec §3 forbids.
	ErrValueTypeChanged = errors.New("tree: value type changed for existing node")
)
