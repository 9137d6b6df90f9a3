package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgExclusionViolation = "23P01"

	reservationColumns = `id, user_id, name, start_at, end_at, created_at, updated_at`
	credentialColumns  = `user_id, access_token, refresh_token, scope, token_type, expires_at, created_at, updated_at`
)

// reservationRepo implements ReservationRepository.
type reservationRepo struct {
	pool Pool
}

func (r *reservationRepo) Create(ctx context.Context, res Reservation) (*Reservation, error) {
	defer observeDB(ctx, "reservations.create")()
	const q = `INSERT INTO reservations (user_id, name, start_at, end_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + reservationColumns

	out, err := scanReservation(r.pool.QueryRow(ctx, q, res.UserID, res.Name, res.StartAt.UTC(), res.EndAt.UTC()))
	if err != nil {
		return nil, fmt.Errorf("create reservation: %w", mapWriteError(err))
	}
	return out, nil
}

func (r *reservationRepo) GetForUser(ctx context.Context, userID, id int64) (*Reservation, error) {
	defer observeDB(ctx, "reservations.get")()
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id=$1 AND user_id=$2`

	out, err := scanReservation(r.pool.QueryRow(ctx, q, id, userID))
	if err != nil {
		return nil, mapReadError(err)
	}
	return out, nil
}

func (r *reservationRepo) ListByUser(ctx context.Context, userID int64) ([]Reservation, error) {
	defer observeDB(ctx, "reservations.list")()
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id=$1 ORDER BY start_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		result = append(result, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return result, nil
}

// FindOverlapping uses the half-open predicate start_at < end AND end_at > start,
// so back-to-back reservations never collide. Identifiers start at 1, which
// lets excludeID 0 mean "exclude nothing".
func (r *reservationRepo) FindOverlapping(ctx context.Context, start, end time.Time, excludeID int64) (*Reservation, error) {
	defer observeDB(ctx, "reservations.find_overlapping")()
	const q = `SELECT ` + reservationColumns + ` FROM reservations
WHERE start_at < $2 AND end_at > $1 AND id <> $3
ORDER BY start_at ASC, id ASC
LIMIT 1`

	out, err := scanReservation(r.pool.QueryRow(ctx, q, start.UTC(), end.UTC(), excludeID))
	if err != nil {
		return nil, mapReadError(err)
	}
	return out, nil
}

func (r *reservationRepo) Update(ctx context.Context, res Reservation) (*Reservation, error) {
	defer observeDB(ctx, "reservations.update")()
	const q = `UPDATE reservations
SET name=$3, start_at=$4, end_at=$5, updated_at=NOW()
WHERE id=$1 AND user_id=$2
RETURNING ` + reservationColumns

	out, err := scanReservation(r.pool.QueryRow(ctx, q, res.ID, res.UserID, res.Name, res.StartAt.UTC(), res.EndAt.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update reservation %d: %w", res.ID, mapWriteError(err))
	}
	return out, nil
}

func (r *reservationRepo) DeleteForUser(ctx context.Context, userID, id int64) (*Reservation, error) {
	defer observeDB(ctx, "reservations.delete")()
	const q = `DELETE FROM reservations WHERE id=$1 AND user_id=$2 RETURNING ` + reservationColumns

	out, err := scanReservation(r.pool.QueryRow(ctx, q, id, userID))
	if err != nil {
		return nil, mapReadError(err)
	}
	return out, nil
}

// credentialRepo implements CredentialRepository.
type credentialRepo struct {
	pool Pool
}

func (r *credentialRepo) GetByUser(ctx context.Context, userID int64) (*CalendarCredential, error) {
	defer observeDB(ctx, "credentials.get")()
	const q = `SELECT ` + credentialColumns + ` FROM calendar_credentials WHERE user_id=$1`

	out, err := scanCredential(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		return nil, mapReadError(err)
	}
	return out, nil
}

func (r *credentialRepo) Upsert(ctx context.Context, cred CalendarCredential) (*CalendarCredential, error) {
	defer observeDB(ctx, "credentials.upsert")()
	const q = `INSERT INTO calendar_credentials (user_id, access_token, refresh_token, scope, token_type, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    scope = EXCLUDED.scope,
    token_type = EXCLUDED.token_type,
    expires_at = EXCLUDED.expires_at,
    updated_at = NOW()
RETURNING ` + credentialColumns

	var expiresAt *time.Time
	if cred.ExpiresAt != nil {
		t := cred.ExpiresAt.UTC()
		expiresAt = &t
	}

	out, err := scanCredential(r.pool.QueryRow(ctx, q, cred.UserID, cred.AccessToken, cred.RefreshToken, cred.Scope, cred.TokenType, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("upsert calendar credential: %w", err)
	}
	return out, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	if err := row.Scan(&r.ID, &r.UserID, &r.Name, &r.StartAt, &r.EndAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanCredential(row pgx.Row) (*CalendarCredential, error) {
	var c CalendarCredential
	if err := row.Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.Scope, &c.TokenType, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func mapReadError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", ErrOverlap, pgErr.ConstraintName)
	}
	return err
}
