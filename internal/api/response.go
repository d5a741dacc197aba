package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps each error kind to a distinct HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindAmountMismatch:
		return http.StatusUnprocessableEntity
	case apperr.KindExpired:
		return http.StatusGone
	case apperr.KindInvalidStateTransition,
		apperr.KindCapacityExceeded,
		apperr.KindSlotUnavailable,
		apperr.KindSlotOverlap,
		apperr.KindInvalidRelease,
		apperr.KindAlreadyFullyPaid,
		apperr.KindDuplicatePendingPayment,
		apperr.KindInvalidKitState,
		apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a core error. Internal failures are logged and
// answered with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, status, string(apperr.KindInternal), "internal error")
		return
	}
	var ve validationErrors
	if errors.As(err, &ve) {
		writeJSON(w, status, ValidationErrorResponse{Error: string(kind), Fields: ve})
		return
	}
	writeError(w, status, string(kind), err.Error())
}
