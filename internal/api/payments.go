package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/gateway"
	"github.com/hackgods/dna-testing-scheduling/internal/payment"
)

func requestPaymentHandler(coord *payment.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		var req RequestPaymentRequest
		if err := decode(r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		p, err := coord.RequestPayment(r.Context(), principal(r), id, payment.Method(req.Method))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPaymentResponse(*p))
	}
}

func listPaymentsHandler(coord *payment.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		list, err := coord.ListByAppointment(r.Context(), principal(r), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, mapSlice(list, toPaymentResponse))
	}
}

func getPaymentHandler(coord *payment.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return paymentAction(logger, func(r *http.Request, id uuid.UUID) (*payment.Payment, error) {
		return coord.Get(r.Context(), principal(r), id)
	})
}

func confirmCashHandler(coord *payment.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return paymentAction(logger, func(r *http.Request, id uuid.UUID) (*payment.Payment, error) {
		return coord.ConfirmCash(r.Context(), principal(r), id)
	})
}

func failPaymentHandler(coord *payment.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return paymentAction(logger, func(r *http.Request, id uuid.UUID) (*payment.Payment, error) {
		return coord.MarkFailed(r.Context(), principal(r), id)
	})
}

func refundPaymentHandler(coord *payment.Coordinator, logger zerolog.Logger) http.HandlerFunc {
	return paymentAction(logger, func(r *http.Request, id uuid.UUID) (*payment.Payment, error) {
		return coord.Refund(r.Context(), principal(r), id)
	})
}

// paymentWebhookHandler accepts signed gateway callbacks. Unknown payments and
// amount mismatches are acknowledged so the gateway stops retrying; the
// mismatch stays pending for manual review.
func paymentWebhookHandler(coord *payment.Coordinator, checksumKey string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
			return
		}
		wh, err := gateway.VerifyWebhook(checksumKey, body)
		if errors.Is(err, gateway.ErrInvalidSignature) {
			logger.Warn().Str("request_id", GetRequestID(r.Context())).Msg("rejected webhook with bad signature")
			writeError(w, http.StatusUnauthorized, "invalid_signature", err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
			return
		}

		n := payment.Notification{
			PaymentNo:            wh.OrderCode,
			Amount:               wh.Amount,
			Status:               payment.StatusCompleted,
			GatewayTransactionID: wh.TransactionID,
			GatewayStatus:        gateway.StatusPaid,
		}
		if !wh.Success {
			n.Status = payment.StatusFailed
			n.GatewayStatus = gateway.StatusCancelled
		}

		_, err = coord.HandleNotification(r.Context(), n)
		switch apperr.KindOf(err) {
		case "":
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "applied"})
		case apperr.KindNotFound:
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		case apperr.KindAmountMismatch:
			writeJSON(w, http.StatusOK, WebhookResponse{Status: "review"})
		default:
			writeServiceError(w, r, logger, err)
		}
	}
}

func paymentAction(logger zerolog.Logger, fn func(r *http.Request, id uuid.UUID) (*payment.Payment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUID(chi.URLParam(r, "id"), "id")
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		p, err := fn(r, id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(*p))
	}
}
