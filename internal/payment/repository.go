package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicatePending is returned when the one-pending-per-stage index rejects an insert.
	ErrDuplicatePending = errors.New("pending payment exists for stage")
	// ErrTransactionReused means another payment already recorded the gateway transaction id.
	ErrTransactionReused = errors.New("gateway transaction id already recorded")
	ErrStatusChanged     = errors.New("payment status changed concurrently")
)

// Completion is the result of Store.Complete. Applied is false when the
// payment was already completed with the same transaction id.
type Completion struct {
	Payment     *Payment
	Appointment *appointment.Appointment
	Applied     bool
}

type Store interface {
	CreatePending(ctx context.Context, p *Payment) (*Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByNo(ctx context.Context, paymentNo int64) (*Payment, error)
	FindPending(ctx context.Context, appointmentID uuid.UUID, stage Stage) (*Payment, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Payment, error)
	SetCheckout(ctx context.Context, id uuid.UUID, url string) (*Payment, error)

	// Complete marks a pending payment completed and credits the amount to
	// the appointment atomically. It applies at most once per payment.
	Complete(ctx context.Context, id uuid.UUID, transactionID, gatewayStatus string) (Completion, error)
	// Close moves a pending payment to failed or cancelled.
	Close(ctx context.Context, id uuid.UUID, to Status, gatewayStatus string) (*Payment, error)
	// Refund marks a completed payment refunded and debits the appointment atomically.
	Refund(ctx context.Context, id uuid.UUID) (Completion, error)

	FindStalePending(ctx context.Context, method Method, before time.Time, limit int) ([]Payment, error)
}
