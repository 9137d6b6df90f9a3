package store

import "time"

// Reservation is a booked, half-open time range [StartAt, EndAt) owned by a user.
type Reservation struct {
	ID        int64
	UserID    int64
	Name      string
	StartAt   time.Time
	EndAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CalendarCredential holds a user's remote calendar tokens. AccessToken and
// RefreshToken are stored encrypted; callers decrypt through the vault.
type CalendarCredential struct {
	UserID       int64
	AccessToken  string
	RefreshToken string
	Scope        *string
	TokenType    *string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
