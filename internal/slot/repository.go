package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound = errors.New("slot not found")
	// ErrNotApplied means a conditional write matched no row; the caller
	// re-reads the slot to find out why.
	ErrNotApplied = errors.New("slot conditional update not applied")
)

// Store contains all persistence needed by the allocator. TryReserve and
// TryRelease must be atomic conditional writes.
type Store interface {
	Create(ctx context.Context, s *Slot) (*Slot, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)

	// TryReserve adds count to booked_count only if the result stays within
	// appointment_limit and the slot is not unavailable.
	TryReserve(ctx context.Context, id uuid.UUID, count int) (*Slot, error)
	// TryRelease subtracts count only if booked_count >= count.
	TryRelease(ctx context.Context, id uuid.UUID, count int) (*Slot, error)

	AttachAppointment(ctx context.Context, id, appointmentID uuid.UUID) error
	MarkUnavailable(ctx context.Context, id uuid.UUID) (*Slot, error)
	Reopen(ctx context.Context, id uuid.UUID) (*Slot, error)

	// FindByStaff returns slots sharing any staff id whose day range intersects [from, to].
	FindByStaff(ctx context.Context, staffIDs []uuid.UUID, from, to time.Time) ([]Slot, error)
	// ListAvailablePage returns up to limit available slots in r ordered by (first day, id) after cursor.
	ListAvailablePage(ctx context.Context, r DateRange, serviceID *uuid.UUID, after *Cursor, limit int) ([]Slot, error)
}
