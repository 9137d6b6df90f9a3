package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gitea.jw6.us/james/reservo/internal/auth"
	"gitea.jw6.us/james/reservo/internal/booking"
	httperrors "gitea.jw6.us/james/reservo/internal/http/errors"
	"gitea.jw6.us/james/reservo/internal/oauth"
	"gitea.jw6.us/james/reservo/internal/store"
)

const maxBodyBytes = 1 << 20

type reservationResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toReservationResponse(r *store.Reservation) reservationResponse {
	return reservationResponse{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		StartAt:   r.StartAt.UTC(),
		EndAt:     r.EndAt.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type conflictResponse struct {
	Error         string `json:"error"`
	Source        string `json:"source"`
	ReservationID int64  `json:"reservation_id,omitempty"`
	EventID       string `json:"event_id,omitempty"`
}

// writeServiceError maps domain errors to HTTP statuses. Anything unknown is
// logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *booking.ConflictError
	switch {
	case errors.As(err, &conflict):
		httperrors.JSON(w, http.StatusConflict, conflictResponse{
			Error:         conflict.Error(),
			Source:        string(conflict.Source),
			ReservationID: conflict.ReservationID,
			EventID:       conflict.EventID,
		})
	case errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrInvalidName):
		httperrors.Write(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		httperrors.Write(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, oauth.ErrNotConnected):
		httperrors.Write(w, http.StatusPreconditionFailed, "calendar not connected")
	case errors.Is(err, oauth.ErrCorruptCredential):
		httperrors.LogError(r, "stored calendar credential unreadable", err)
		httperrors.Write(w, http.StatusConflict, "stored calendar credential is invalid, reconnect the calendar")
	case errors.Is(err, oauth.ErrMissingRefreshToken):
		httperrors.Write(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrRemoteAvailabilityUnknown):
		httperrors.LogError(r, "remote calendar unavailable", err)
		w.Header().Set("Retry-After", "30")
		httperrors.Write(w, http.StatusServiceUnavailable, "calendar availability could not be verified, try again later")
	default:
		httperrors.InternalError(w, r, err, "request failed")
	}
}

// requireUser returns the authenticated user id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httperrors.Write(w, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return id, true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httperrors.BadRequestError(w, r, err, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid JSON body")
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		httperrors.BadRequestError(w, r, fmt.Errorf("trailing data after JSON body"), "invalid JSON body")
		return false
	}
	return true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
