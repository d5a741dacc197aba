package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrStatusChanged       = errors.New("reservation status changed concurrently")
)

type Store interface {
	Create(ctx context.Context, r *Reservation) (*Reservation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Reservation, error)
	// UpdateStatus applies t only if the reservation is still in t.From. It
	// also returns the hold count the row had before the write.
	UpdateStatus(ctx context.Context, id uuid.UUID, t Transition) (updated *Reservation, priorHold int, err error)
	// UndoConversion restores a converted reservation whose appointment could not be created.
	UndoConversion(ctx context.Context, id uuid.UUID, to Status, holdCount int) (*Reservation, error)
	// RestoreHold puts hold_count back after a failed capacity release.
	RestoreHold(ctx context.Context, id uuid.UUID, holdCount int) error
	// ClaimHold zeroes a positive hold_count and returns the previous value.
	ClaimHold(ctx context.Context, id uuid.UUID) (int, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	// FindLapsedOnSlot returns lapsed pending reservations still holding places on the slot.
	FindLapsedOnSlot(ctx context.Context, slotID uuid.UUID, now time.Time, limit int) ([]Reservation, error)
	// SetPaymentStatus updates the reservation converted into appointmentID.
	SetPaymentStatus(ctx context.Context, appointmentID uuid.UUID, status PaymentStatus) error
	FindUnreleased(ctx context.Context, limit int) ([]Reservation, error)
}
