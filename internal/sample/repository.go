package sample

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSampleNotFound = errors.New("sample not found")
	// ErrStatusChanged means the conditional update found the sample in another status.
	ErrStatusChanged = errors.New("sample status changed concurrently")
)

type Store interface {
	Create(ctx context.Context, s *Sample) (*Sample, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Sample, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Sample, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, resultRef *string) (*Sample, error)
}
