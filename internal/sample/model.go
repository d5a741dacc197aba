package sample

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusReceived  Status = "received"
	StatusTesting   Status = "testing"
	StatusCompleted Status = "completed"
	StatusInvalid   Status = "invalid"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusReceived, StatusTesting, StatusInvalid},
	StatusReceived:  {StatusTesting, StatusInvalid},
	StatusTesting:   {StatusCompleted, StatusInvalid},
	StatusCompleted: nil,
	StatusInvalid:   nil,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &apperr.TransitionError{Entity: "sample", From: string(from), To: string(to)}
	}
	return nil
}

type Sample struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	KitID         *uuid.UUID
	SampleType    string
	DonorName     string
	Status        Status
	ResultRef     *string
	CollectedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Settled reports whether the sample no longer blocks completion.
func (s Sample) Settled() bool {
	return s.Status == StatusCompleted || s.Status == StatusInvalid
}
