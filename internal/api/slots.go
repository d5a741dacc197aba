package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func createSlotHandler(slots *slot.Allocator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		staff := make([]uuid.UUID, len(req.StaffIDs))
		for i, raw := range req.StaffIDs {
			staff[i] = uuid.MustParse(raw)
		}

		s, err := slots.CreateSlot(r.Context(), principal(r), slot.CreateInput{
			StaffIDs:         staff,
			ServiceID:        uuid.MustParse(req.ServiceID),
			Windows:          req.Windows,
			AppointmentLimit: req.AppointmentLimit,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(*s))
	}
}

func getSlotHandler(slots *slot.Allocator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		s, err := slots.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(*s))
	}
}

// listAvailableSlotsHandler serves GET /slots?from=YYYY-MM-DD&to=YYYY-MM-DD.
func listAvailableSlotsHandler(slots *slot.Allocator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := time.Parse(time.DateOnly, q.Get("from"))
		if err != nil {
			writeServiceError(w, r, logger, apperr.New(apperr.KindInvalidInput, "from must be YYYY-MM-DD"))
			return
		}
		to := from
		if raw := q.Get("to"); raw != "" {
			if to, err = time.Parse(time.DateOnly, raw); err != nil {
				writeServiceError(w, r, logger, apperr.New(apperr.KindInvalidInput, "to must be YYYY-MM-DD"))
				return
			}
		}
		if to.Before(from) {
			writeServiceError(w, r, logger, apperr.New(apperr.KindInvalidInput, "to must not be before from"))
			return
		}
		serviceID, err := parseOptionalUUID(q.Get("service_id"), "service_id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		limit := queryInt(q.Get("limit"), defaultPageSize, maxPageSize)

		out := make([]SlotResponse, 0, limit)
		for s, err := range slots.ListAvailable(r.Context(), slot.DateRange{From: from, To: to}, serviceID) {
			if err != nil {
				writeServiceError(w, r, logger, err)
				return
			}
			out = append(out, toSlotResponse(s))
			if len(out) == limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func setSlotStatusHandler(slots *slot.Allocator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		var req SlotStatusRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		s, err := slots.SetStatus(r.Context(), principal(r), id, slot.Status(req.Status))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(*s))
	}
}

// queryInt parses a non-negative page parameter, clamped to max.
func queryInt(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
