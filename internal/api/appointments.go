package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

func bookAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		in := appointment.BookInput{
			ServiceID:         uuid.MustParse(req.ServiceID),
			SlotID:            uuid.MustParse(req.SlotID),
			CollectionType:    req.CollectionType,
			CollectionAddress: req.CollectionAddress,
		}
		if req.CustomerID != "" {
			in.CustomerID = uuid.MustParse(req.CustomerID)
		}

		appt, err := svc.Book(r.Context(), principal(r), in)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := customerParam(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		q := r.URL.Query()
		limit := queryInt(q.Get("limit"), 20, 100)
		offset := queryInt(q.Get("offset"), 0, 1<<20)

		list, err := svc.ListByCustomer(r.Context(), principal(r), customerID, limit, offset)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mapSlice(list, toAppointmentResponse))
	}
}

func getAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return appointmentAction(logger, func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Get(r.Context(), principal(r), id)
	})
}

func confirmAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return appointmentAction(logger, func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Confirm(r.Context(), principal(r), id)
	})
}

func completeAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return appointmentAction(logger, func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Complete(r.Context(), principal(r), id)
	})
}

func cancelAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return appointmentAction(logger, func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req CancelRequest
		if err := decodeOptional(r, &req); err != nil {
			return nil, err
		}
		return svc.Cancel(r.Context(), principal(r), id, req.Reason)
	})
}

func assignKitHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return appointmentAction(logger, func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req AssignKitRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return svc.AssignKit(r.Context(), principal(r), id, uuid.MustParse(req.KitID))
	})
}

func startTestingHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return appointmentAction(logger, func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		var req StartTestingRequest
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(req.SampleIDs))
		for i, raw := range req.SampleIDs {
			ids[i] = uuid.MustParse(raw)
		}
		return svc.StartTesting(r.Context(), principal(r), id, ids)
	})
}

func collectSamplesHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		var req CollectSamplesRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		inputs := make([]appointment.SampleInput, len(req.Samples))
		for i, s := range req.Samples {
			inputs[i] = appointment.SampleInput{SampleType: s.SampleType, DonorName: s.DonorName}
		}

		appt, samples, err := svc.RecordSampleCollection(r.Context(), principal(r), id, inputs)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, CollectSamplesResponse{
			Appointment: toAppointmentResponse(*appt),
			Samples:     mapSlice(samples, toSampleResponse),
		})
	}
}

func recordResultHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		var req RecordResultRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		s, err := svc.RecordResult(r.Context(), principal(r), id, req.ResultRef, req.Invalid)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSampleResponse(*s))
	}
}

func appointmentAction(logger zerolog.Logger, fn func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		appt, err := fn(r, id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}
