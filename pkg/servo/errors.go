package servo

import "errors"

var (
	// ErrCapacityExceeded is returned by Add when every slot is in use.
	ErrCapacityExceeded = errors.New("servo table is full")
	// ErrIndexNotFound is returned when no live servo has the given index.
	ErrIndexNotFound = errors.New("servo index not found")
	// ErrDuplicateIndex is returned when an index is already in use.
	ErrDuplicateIndex = errors.New("servo index already in use")
	// ErrInvalidPosition is returned for positions outside [0, 255].
	ErrInvalidPosition = errors.New("servo position out of range")
	// ErrInvalidTiming is returned for timing values that cannot keep
	// off-callbacks from overlapping.
	ErrInvalidTiming = errors.New("invalid servo timing")
)
