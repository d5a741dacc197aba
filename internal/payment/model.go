package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

type Method string

const (
	MethodCash   Method = "cash"
	MethodOnline Method = "online"
)

func (m Method) Valid() bool { return m == MethodCash || m == MethodOnline }

type Stage string

const (
	StageDeposit   Stage = "deposit"
	StageRemaining Stage = "remaining"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {StatusRefunded},
	StatusFailed:    nil,
	StatusCancelled: nil,
	StatusRefunded:  nil,
}

func CheckTransition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return &apperr.TransitionError{Entity: "payment", From: string(from), To: string(to)}
}

type Payment struct {
	ID                   uuid.UUID
	PaymentNo            int64
	AppointmentID        uuid.UUID
	Amount               int64
	Method               Method
	Stage                Stage
	Status               Status
	CheckoutURL          *string
	GatewayTransactionID *string
	GatewayStatus        *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Notification is an already-verified gateway or cash confirmation.
type Notification struct {
	PaymentNo            int64
	Amount               int64
	Status               Status
	GatewayTransactionID string
	GatewayStatus        string
}
