package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reservations: make(map[uuid.UUID]Reservation)}
}

func clone(r Reservation) *Reservation {
	c := r
	c.PreferredSlots = append([]string(nil), r.PreferredSlots...)
	return &c
}

func (m *MemoryStore) Create(_ context.Context, r *Reservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *clone(*r)
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.reservations[c.ID] = c
	return clone(c), nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return clone(r), nil
}

func (m *MemoryStore) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Reservation
	for _, r := range m.reservations {
		if r.CustomerID == customerID {
			result = append(result, *clone(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, t Transition) (*Reservation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != t.From {
		return nil, 0, ErrStatusChanged
	}
	prior := r.HoldCount
	r.Status = t.To
	if t.ConvertedTo != nil {
		apptID := *t.ConvertedTo
		r.ConvertedToAppointmentID = &apptID
	}
	if t.ReleaseHold {
		r.HoldCount = 0
	}
	r.UpdatedAt = time.Now()
	m.reservations[id] = r
	return clone(r), prior, nil
}

func (m *MemoryStore) UndoConversion(_ context.Context, id uuid.UUID, to Status, holdCount int) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != StatusConverted {
		return nil, ErrStatusChanged
	}
	r.Status = to
	r.ConvertedToAppointmentID = nil
	r.HoldCount = holdCount
	r.UpdatedAt = time.Now()
	m.reservations[id] = r
	return clone(r), nil
}

func (m *MemoryStore) RestoreHold(_ context.Context, id uuid.UUID, holdCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	if r.HoldCount == 0 {
		r.HoldCount = holdCount
		m.reservations[id] = r
	}
	return nil
}

func (m *MemoryStore) ClaimHold(_ context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.HoldCount == 0 {
		return 0, nil
	}
	prior := r.HoldCount
	r.HoldCount = 0
	r.UpdatedAt = time.Now()
	m.reservations[id] = r
	return prior, nil
}

func (m *MemoryStore) FindExpired(_ context.Context, now time.Time, limit int) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && r.ExpiresAt.Before(now) {
			result = append(result, *clone(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) FindLapsedOnSlot(_ context.Context, slotID uuid.UUID, now time.Time, limit int) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && r.SlotID != nil && *r.SlotID == slotID && r.HoldCount > 0 && r.ExpiresAt.Before(now) {
			result = append(result, *clone(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) SetPaymentStatus(_ context.Context, appointmentID uuid.UUID, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, r := range m.reservations {
		if r.ConvertedToAppointmentID != nil && *r.ConvertedToAppointmentID == appointmentID {
			r.PaymentStatus = status
			r.UpdatedAt = time.Now()
			m.reservations[id] = r
		}
	}
	return nil
}

func (m *MemoryStore) FindUnreleased(_ context.Context, limit int) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Reservation
	for _, r := range m.reservations {
		if (r.Status == StatusExpired || r.Status == StatusCancelled) && r.HoldCount > 0 && r.SlotID != nil {
			result = append(result, *clone(r))
		}
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
