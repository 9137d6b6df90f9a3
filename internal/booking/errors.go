package booking

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidRange = errors.New("start must be before end")
	ErrInvalidName  = errors.New("invalid name")
	ErrNotFound     = errors.New("reservation not found")

	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("time range is not available")

	// ErrRemoteAvailabilityUnknown means the remote calendar could not be
	// consulted. It must never be read as "no conflict".
	ErrRemoteAvailabilityUnknown = errors.New("remote calendar availability unknown")
)

// ConflictSource names where a collision was detected.
type ConflictSource string

const (
	SourceLocal  ConflictSource = "local"
	SourceRemote ConflictSource = "remote"
	// SourceConstraint is a collision rejected by the database after the
	// application check passed, i.e. a concurrent booking won the race.
	SourceConstraint ConflictSource = "constraint"
)

// ConflictError identifies the reservation or calendar event a candidate
// interval collides with.
type ConflictError struct {
	Source        ConflictSource
	ReservationID int64
	EventID       string
}

func (e *ConflictError) Error() string {
	switch e.Source {
	case SourceLocal:
		return fmt.Sprintf("conflicts with existing reservation %d", e.ReservationID)
	case SourceRemote:
		if e.EventID != "" {
			return fmt.Sprintf("conflicts with calendar event %s", e.EventID)
		}
		return "conflicts with a calendar event"
	default:
		return "conflicts with an existing reservation"
	}
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
