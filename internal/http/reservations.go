package httpserver

import (
	"context"
	"net/http"

	"gitea.jw6.us/james/reservo/internal/booking"
	httperrors "gitea.jw6.us/james/reservo/internal/http/errors"
	"gitea.jw6.us/james/reservo/internal/store"
)

// ReservationService is the booking surface exposed over HTTP.
type ReservationService interface {
	List(ctx context.Context, userID int64) ([]store.Reservation, error)
	Get(ctx context.Context, userID, id int64) (*store.Reservation, error)
	Create(ctx context.Context, userID int64, in booking.CreateInput) (*store.Reservation, error)
	Update(ctx context.Context, userID, id int64, in booking.UpdateInput) (*store.Reservation, error)
	Remove(ctx context.Context, userID, id int64) (*store.Reservation, error)
}

// ReservationHandler serves /api/reservations.
type ReservationHandler struct {
	svc ReservationService
}

func NewReservationHandler(svc ReservationService) *ReservationHandler {
	return &ReservationHandler{svc: svc}
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.svc.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]reservationResponse, 0, len(list))
	for i := range list {
		out = append(out, toReservationResponse(&list[i]))
	}
	httperrors.JSON(w, http.StatusOK, out)
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Get(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in booking.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.svc.Create(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/reservations/"+formatID(res.ID))
	httperrors.JSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *ReservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var in booking.UpdateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := h.svc.Update(r.Context(), userID, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *ReservationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Remove(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httperrors.JSON(w, http.StatusOK, toReservationResponse(res))
}
