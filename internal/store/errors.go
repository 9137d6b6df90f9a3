package store

import "errors"

var (
	// ErrNotFound indicates a missing or unauthorized resource lookup.
	ErrNotFound = errors.New("record not found")

	// ErrOverlap is returned when the reservation exclusion constraint rejects a write.
	ErrOverlap = errors.New("reservation overlaps an existing reservation")
)
