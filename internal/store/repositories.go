package store

import (
	"context"
	"time"
)

// ReservationRepository defines persistence operations for reservations.
type ReservationRepository interface {
	Create(ctx context.Context, r Reservation) (*Reservation, error)
	GetForUser(ctx context.Context, userID, id int64) (*Reservation, error)
	ListByUser(ctx context.Context, userID int64) ([]Reservation, error)
	// FindOverlapping returns the earliest reservation intersecting [start, end),
	// ignoring excludeID. It returns ErrNotFound when the range is free.
	FindOverlapping(ctx context.Context, start, end time.Time, excludeID int64) (*Reservation, error)
	Update(ctx context.Context, r Reservation) (*Reservation, error)
	DeleteForUser(ctx context.Context, userID, id int64) (*Reservation, error)
}

// CredentialRepository handles encrypted calendar credential storage.
type CredentialRepository interface {
	GetByUser(ctx context.Context, userID int64) (*CalendarCredential, error)
	Upsert(ctx context.Context, cred CalendarCredential) (*CalendarCredential, error)
}
