package reservation

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusConverted Status = "converted"
)

var edges = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusExpired, StatusCancelled, StatusConverted},
	StatusConfirmed: {StatusCancelled, StatusConverted},
	StatusExpired:   nil,
	StatusCancelled: nil,
	StatusConverted: nil,
}

func CheckTransition(from, to Status) error {
	for _, next := range edges[from] {
		if next == to {
			return nil
		}
	}
	return &apperr.TransitionError{Entity: "reservation", From: string(from), To: string(to)}
}

type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentDepositPaid PaymentStatus = "deposit_paid"
	PaymentPaid        PaymentStatus = "paid"
)

// PaymentStatusFor derives the reservation's payment summary from the amounts
// of the appointment it converted into.
func PaymentStatusFor(total, deposit, paid int64) PaymentStatus {
	switch {
	case paid > 0 && paid >= total:
		return PaymentPaid
	case paid > 0 && paid >= deposit:
		return PaymentDepositPaid
	default:
		return PaymentUnpaid
	}
}

type Reservation struct {
	ID                       uuid.UUID
	CustomerID               uuid.UUID
	ServiceID                uuid.UUID
	TestingNeed              string
	PreferredDate            *time.Time
	PreferredSlots           []string
	SlotID                   *uuid.UUID
	HoldCount                int
	TotalAmount              int64
	DepositAmount            int64
	Status                   Status
	PaymentStatus            PaymentStatus
	ExpiresAt                time.Time
	ConvertedToAppointmentID *uuid.UUID
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Transition is a conditional status change. ReleaseHold zeroes hold_count in
// the same write so only one caller ever releases the slot capacity.
type Transition struct {
	From        Status
	To          Status
	ConvertedTo *uuid.UUID
	ReleaseHold bool
}
