package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrStatusChanged means a conditional update did not match the expected state.
	ErrStatusChanged    = errors.New("appointment changed concurrently")
	ErrAmountOutOfRange = errors.New("amount paid would leave [0, total]")
)

// Transition is a conditional status change applied only when the row is
// still in From.
type Transition struct {
	From         Status
	To           Status
	ClearHold    bool
	CancelReason *string
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error)
	SetKit(ctx context.Context, id, kitID uuid.UUID) (*Appointment, error)
	// SetSlotReleased flips the released flag only if it currently equals !released.
	SetSlotReleased(ctx context.Context, id uuid.UUID, released bool) (bool, error)

	// Expiry worker
	FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error)
	// FindExpiredHoldsOnSlot returns lapsed pending appointments still holding the slot.
	FindExpiredHoldsOnSlot(ctx context.Context, slotID uuid.UUID, now time.Time, limit int) ([]Appointment, error)
	FindUnreleasedCancelled(ctx context.Context, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
