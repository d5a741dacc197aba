package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Repository. Conditional updates run under one
// mutex, matching the row-level guarantees of the SQL implementation.
type MemoryStore struct {
	mu           sync.Mutex
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{appointments: make(map[uuid.UUID]Appointment)}
}

func (m *MemoryStore) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *a
	c.AmountPaid = 0
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.appointments[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListByCustomer(_ context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.CustomerID == customerID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != t.From {
		return nil, ErrStatusChanged
	}
	a.Status = t.To
	if t.ClearHold {
		a.HoldExpiresAt = nil
	}
	if t.CancelReason != nil {
		reason := *t.CancelReason
		a.CancelReason = &reason
	}
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) SetKit(_ context.Context, id, kitID uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.KitID = &kitID
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) SetSlotReleased(_ context.Context, id uuid.UUID, released bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.SlotID == nil || a.SlotReleased == released {
		return false, nil
	}
	a.SlotReleased = released
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return true, nil
}

// AddPaid backs the in-memory payment ledger. Postgres credits amount_paid
// inside the payment transaction instead.
func (m *MemoryStore) AddPaid(_ context.Context, id uuid.UUID, delta int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	next := a.AmountPaid + delta
	if next < 0 || next > a.TotalAmount {
		return nil, ErrAmountOutOfRange
	}
	a.AmountPaid = next
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) FindExpiredHolds(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusPending && a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].HoldExpiresAt.Before(*result[j].HoldExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) FindExpiredHoldsOnSlot(_ context.Context, slotID uuid.UUID, now time.Time, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusPending && a.HoldsSlot() && *a.SlotID == slotID &&
			a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].HoldExpiresAt.Before(*result[j].HoldExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) FindUnreleasedCancelled(_ context.Context, limit int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusCancelled && a.HoldsSlot() {
			result = append(result, a)
		}
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded event types for one appointment.
func (m *MemoryStore) Events(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var types []string
	for _, ev := range m.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == id {
			types = append(types, ev.EventType)
		}
	}
	return types
}
