package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusConfirmed       Status = "confirmed"
	StatusSampleCollected Status = "sample_collected"
	StatusTesting         Status = "testing"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

type Appointment struct {
	ID                uuid.UUID
	CustomerID        uuid.UUID
	ServiceID         uuid.UUID
	SlotID            *uuid.UUID
	KitID             *uuid.UUID
	Status            Status
	TotalAmount       int64
	DepositAmount     int64
	AmountPaid        int64
	CollectionType    string
	CollectionAddress *string
	HoldExpiresAt     *time.Time
	SlotReleased      bool
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RemainingAmount is total minus paid, never negative.
func (a Appointment) RemainingAmount() int64 {
	if a.AmountPaid >= a.TotalAmount {
		return 0
	}
	return a.TotalAmount - a.AmountPaid
}

func (a Appointment) FullyPaid() bool {
	return a.AmountPaid >= a.TotalAmount
}

// HoldsSlot reports whether the appointment still owns slot capacity.
func (a Appointment) HoldsSlot() bool {
	return a.SlotID != nil && !a.SlotReleased
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
