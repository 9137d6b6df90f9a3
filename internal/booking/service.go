// Package booking creates, changes and removes reservations while keeping
// them clear of other reservations and of the owner's remote calendar.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"gitea.jw6.us/james/reservo/internal/logging"
	"gitea.jw6.us/james/reservo/internal/metrics"
	"gitea.jw6.us/james/reservo/internal/store"
)

const (
	maxNameLength = 200
	dateLayout    = "2006-01-02"
)

// ReservationStore is the reservation persistence used by Service.
type ReservationStore interface {
	Create(ctx context.Context, r store.Reservation) (*store.Reservation, error)
	GetForUser(ctx context.Context, userID, id int64) (*store.Reservation, error)
	ListByUser(ctx context.Context, userID int64) ([]store.Reservation, error)
	Update(ctx context.Context, r store.Reservation) (*store.Reservation, error)
	DeleteForUser(ctx context.Context, userID, id int64) (*store.Reservation, error)
}

// ConflictChecker rejects candidate intervals that collide with something.
type ConflictChecker interface {
	Check(ctx context.Context, userID int64, start, end time.Time, excludeID int64) error
}

// CreateInput carries raw client values; instants are parsed by the service.
type CreateInput struct {
	Name    string `json:"name"`
	StartAt string `json:"startAt"`
	EndAt   string `json:"endAt"`
}

// UpdateInput is a partial patch. Nil fields, and blank instants, keep their
// stored value.
type UpdateInput struct {
	Name    *string `json:"name"`
	StartAt *string `json:"startAt"`
	EndAt   *string `json:"endAt"`
}

// Service implements the reservation lifecycle.
type Service struct {
	reservations ReservationStore
	checker      ConflictChecker
	logger       *zap.Logger
}

func NewService(reservations ReservationStore, checker ConflictChecker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reservations: reservations, checker: checker, logger: logger}
}

func (s *Service) List(ctx context.Context, userID int64) ([]store.Reservation, error) {
	list, err := s.reservations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	if list == nil {
		list = []store.Reservation{}
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, userID, id int64) (*store.Reservation, error) {
	r, err := s.reservations.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapNotFound(err, "load reservation")
	}
	return r, nil
}

// Create validates the input, checks for conflicts and persists the reservation.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*store.Reservation, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	start, err := parseInstant(in.StartAt, "startAt")
	if err != nil {
		return nil, err
	}
	end, err := parseInstant(in.EndAt, "endAt")
	if err != nil {
		return nil, err
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	if err := s.checker.Check(ctx, userID, start, end, 0); err != nil {
		return nil, err
	}

	created, err := s.reservations.Create(ctx, store.Reservation{UserID: userID, Name: name, StartAt: start, EndAt: end})
	if err != nil {
		return nil, mapWriteError(err, "create reservation")
	}

	logging.FromContext(ctx, s.logger).Info("reservation created",
		zap.Int64("user_id", userID),
		zap.Int64("reservation_id", created.ID))
	return created, nil
}

// Update merges the provided fields into the stored reservation and re-runs
// validation and the conflict check on the merged interval, excluding the
// reservation itself from the local check.
func (s *Service) Update(ctx context.Context, userID, id int64, in UpdateInput) (*store.Reservation, error) {
	existing, err := s.reservations.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, mapNotFound(err, "load reservation")
	}

	merged := *existing
	if in.Name != nil {
		if merged.Name, err = validateName(*in.Name); err != nil {
			return nil, err
		}
	}
	if present(in.StartAt) {
		if merged.StartAt, err = parseInstant(*in.StartAt, "startAt"); err != nil {
			return nil, err
		}
	}
	if present(in.EndAt) {
		if merged.EndAt, err = parseInstant(*in.EndAt, "endAt"); err != nil {
			return nil, err
		}
	}
	if err := validateRange(merged.StartAt, merged.EndAt); err != nil {
		return nil, err
	}

	if err := s.checker.Check(ctx, userID, merged.StartAt, merged.EndAt, existing.ID); err != nil {
		return nil, err
	}

	updated, err := s.reservations.Update(ctx, merged)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapWriteError(err, "update reservation")
	}

	logging.FromContext(ctx, s.logger).Info("reservation updated",
		zap.Int64("user_id", userID),
		zap.Int64("reservation_id", updated.ID))
	return updated, nil
}

// Remove deletes the user's reservation and returns the deleted record.
func (s *Service) Remove(ctx context.Context, userID, id int64) (*store.Reservation, error) {
	deleted, err := s.reservations.DeleteForUser(ctx, userID, id)
	if err != nil {
		return nil, mapNotFound(err, "delete reservation")
	}

	logging.FromContext(ctx, s.logger).Info("reservation removed",
		zap.Int64("user_id", userID),
		zap.Int64("reservation_id", deleted.ID))
	return deleted, nil
}

// present reports whether a patch field carries a value. Blank instants keep
// the stored value.
func present(v *string) bool {
	return v != nil && strings.TrimSpace(*v) != ""
}

// parseInstant accepts RFC 3339 timestamps (fractional seconds optional) and
// bare dates, which are read as midnight UTC. Results are truncated to the
// microsecond precision of timestamptz.
func parseInstant(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrInvalidDate, field)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC().Truncate(time.Microsecond), nil
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be a valid ISO 8601 date", ErrInvalidDate, field)
}

func validateRange(start, end time.Time) error {
	if !start.Before(end) {
		return fmt.Errorf("%w: startAt must be before endAt", ErrInvalidRange)
	}
	return nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: name must be at most %d characters", ErrInvalidName, maxNameLength)
	}
	return name, nil
}

func mapNotFound(err error, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapWriteError turns an exclusion-constraint rejection into a conflict: a
// concurrent booking committed between our check and our write.
func mapWriteError(err error, op string) error {
	if errors.Is(err, store.ErrOverlap) {
		metrics.IncConflict(string(SourceConstraint))
		return &ConflictError{Source: SourceConstraint}
	}
	return fmt.Errorf("%s: %w", op, err)
}
