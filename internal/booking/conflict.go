package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitea.jw6.us/james/reservo/internal/calendar"
	"gitea.jw6.us/james/reservo/internal/logging"
	"gitea.jw6.us/james/reservo/internal/metrics"
	"gitea.jw6.us/james/reservo/internal/oauth"
	"gitea.jw6.us/james/reservo/internal/store"
)

// DefaultRemoteTimeout bounds a single remote calendar query.
const DefaultRemoteTimeout = 10 * time.Second

// OverlapFinder looks up the first stored reservation intersecting a range.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, start, end time.Time, excludeID int64) (*store.Reservation, error)
}

// CredentialProvider hands out an authorized calendar client for a user.
type CredentialProvider interface {
	GetUsableCredential(ctx context.Context, userID int64) (*oauth.Client, error)
}

// Overlaps reports whether the half-open intervals [s1, e1) and [s2, e2)
// intersect. Touching intervals do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// Checker validates a candidate interval against local reservations and the
// user's remote calendar.
type Checker struct {
	reservations OverlapFinder
	credentials  CredentialProvider
	events       calendar.EventFinder
	timeout      time.Duration
	logger       *zap.Logger
}

func NewChecker(reservations OverlapFinder, credentials CredentialProvider, events calendar.EventFinder, timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		reservations: reservations,
		credentials:  credentials,
		events:       events,
		timeout:      timeout,
		logger:       logger,
	}
}

// OverlapsLocal returns the first reservation other than excludeID that
// intersects [start, end), or nil. excludeID 0 excludes nothing.
func (c *Checker) OverlapsLocal(ctx context.Context, start, end time.Time, excludeID int64) (*store.Reservation, error) {
	r, err := c.reservations.FindOverlapping(ctx, start, end, excludeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find overlapping reservation: %w", err)
	}
	return r, nil
}

// OverlapsRemote returns the first event on the user's calendar intersecting
// [start, end), or nil. Failures of the remote query wrap
// ErrRemoteAvailabilityUnknown; oauth.ErrNotConnected and
// oauth.ErrCorruptCredential are returned unchanged.
func (c *Checker) OverlapsRemote(ctx context.Context, userID int64, start, end time.Time) (*calendar.Event, error) {
	client, err := c.credentials.GetUsableCredential(ctx, userID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	began := time.Now()
	ev, err := c.events.FirstEvent(ctx, client.TokenSource(), start, end)
	if err != nil {
		metrics.ObserveRemoteCalendar("error", began)
		logging.FromContext(ctx, c.logger).Warn("remote calendar query failed",
			zap.Int64("user_id", userID),
			zap.String("refresh_outcome", string(client.Outcome)),
			zap.NamedError("refresh_error", client.RefreshErr),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRemoteAvailabilityUnknown, err)
	}
	if ev == nil {
		metrics.ObserveRemoteCalendar("free", began)
		return nil, nil
	}
	metrics.ObserveRemoteCalendar("busy", began)
	return ev, nil
}

// Check runs the local check first and the remote check second; the first
// collision found is returned as a *ConflictError.
func (c *Checker) Check(ctx context.Context, userID int64, start, end time.Time, excludeID int64) error {
	local, err := c.OverlapsLocal(ctx, start, end, excludeID)
	if err != nil {
		return err
	}
	if local != nil {
		metrics.IncConflict(string(SourceLocal))
		return &ConflictError{Source: SourceLocal, ReservationID: local.ID}
	}

	remote, err := c.OverlapsRemote(ctx, userID, start, end)
	if err != nil {
		return err
	}
	if remote != nil {
		metrics.IncConflict(string(SourceRemote))
		return &ConflictError{Source: SourceRemote, EventID: remote.ID}
	}
	return nil
}
