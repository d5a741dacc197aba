package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/reservation"
)

func createReservationHandler(svc *reservation.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		in := reservation.CreateInput{
			ServiceID:      uuid.MustParse(req.ServiceID),
			TestingNeed:    req.TestingNeed,
			PreferredSlots: req.PreferredSlots,
			TotalAmount:    req.TotalAmount,
			DepositAmount:  req.DepositAmount,
		}
		if req.CustomerID != "" {
			in.CustomerID = uuid.MustParse(req.CustomerID)
		}
		if req.SlotID != "" {
			id := uuid.MustParse(req.SlotID)
			in.SlotID = &id
		}
		if req.PreferredDate != "" {
			d, _ := time.Parse(time.DateOnly, req.PreferredDate)
			in.PreferredDate = &d
		}

		res, err := svc.Create(r.Context(), principal(r), in)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReservationResponse(*res))
	}
}

func getReservationHandler(svc *reservation.Service, logger zerolog.Logger) http.HandlerFunc {
	return reservationAction(logger, func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error) {
		return svc.Get(r.Context(), principal(r), id)
	})
}

func confirmReservationHandler(svc *reservation.Service, logger zerolog.Logger) http.HandlerFunc {
	return reservationAction(logger, func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error) {
		return svc.Confirm(r.Context(), principal(r), id)
	})
}

func cancelReservationHandler(svc *reservation.Service, logger zerolog.Logger) http.HandlerFunc {
	return reservationAction(logger, func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error) {
		return svc.Cancel(r.Context(), principal(r), id)
	})
}

// listReservationsHandler lists a customer's reservations. Customers default
// to their own id.
func listReservationsHandler(svc *reservation.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerParam(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		list, err := svc.ListByCustomer(r.Context(), principal(r), customerID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mapSlice(list, toReservationResponse))
	}
}

func convertReservationHandler(svc *reservation.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		var req ConvertReservationRequest
		if err := decodeOptional(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		res, appt, err := svc.Convert(r.Context(), principal(r), id, reservation.ConvertInput{
			CollectionType:    req.CollectionType,
			CollectionAddress: req.CollectionAddress,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ConvertReservationResponse{
			Reservation: toReservationResponse(*res),
			Appointment: toAppointmentResponse(*appt),
		})
	}
}

func reservationAction(logger zerolog.Logger, fn func(r *http.Request, id uuid.UUID) (*reservation.Reservation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		res, err := fn(r, id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toReservationResponse(*res))
	}
}
