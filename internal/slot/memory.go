package slot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. All writes happen under one mutex, so
// the conditional updates are atomic the same way the SQL ones are.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[uuid.UUID]Slot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[uuid.UUID]Slot)}
}

func clone(s Slot) *Slot {
	c := s
	c.StaffIDs = append([]uuid.UUID(nil), s.StaffIDs...)
	c.Windows = append([]TimeWindow(nil), s.Windows...)
	if s.AppointmentID != nil {
		id := *s.AppointmentID
		c.AppointmentID = &id
	}
	return &c
}

func (m *MemoryStore) Create(_ context.Context, s *Slot) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c := *clone(*s)
	c.BookedCount = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	m.slots[c.ID] = c
	return clone(c), nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) TryReserve(_ context.Context, id uuid.UUID, count int) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok || s.Status == StatusUnavailable || s.BookedCount+count > s.AppointmentLimit {
		return nil, ErrNotApplied
	}
	s.BookedCount += count
	s.Status = statusFor(s.Status, s.BookedCount, s.AppointmentLimit)
	s.UpdatedAt = time.Now()
	m.slots[id] = s
	return clone(s), nil
}

func (m *MemoryStore) TryRelease(_ context.Context, id uuid.UUID, count int) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok || s.BookedCount < count {
		return nil, ErrNotApplied
	}
	s.BookedCount -= count
	s.Status = statusFor(s.Status, s.BookedCount, s.AppointmentLimit)
	if s.BookedCount < s.AppointmentLimit {
		s.AppointmentID = nil
	}
	s.UpdatedAt = time.Now()
	m.slots[id] = s
	return clone(s), nil
}

func (m *MemoryStore) AttachAppointment(_ context.Context, id, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if s.AppointmentLimit == 1 && s.BookedCount == 1 {
		s.AppointmentID = &appointmentID
		m.slots[id] = s
	}
	return nil
}

func (m *MemoryStore) MarkUnavailable(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	s.Status = StatusUnavailable
	s.UpdatedAt = time.Now()
	m.slots[id] = s
	return clone(s), nil
}

func (m *MemoryStore) Reopen(_ context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	s.Status = statusFor(StatusAvailable, s.BookedCount, s.AppointmentLimit)
	s.UpdatedAt = time.Now()
	m.slots[id] = s
	return clone(s), nil
}

func (m *MemoryStore) FindByStaff(_ context.Context, staffIDs []uuid.UUID, from, to time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Slot
	for _, s := range m.slots {
		first, last := s.DayRange()
		if s.SharesStaff(staffIDs) && !last.Before(from) && !first.After(to) {
			result = append(result, *clone(s))
		}
	}
	return result, nil
}

func (m *MemoryStore) ListAvailablePage(_ context.Context, r DateRange, serviceID *uuid.UUID, after *Cursor, limit int) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Slot
	for _, s := range m.slots {
		if s.Status != StatusAvailable {
			continue
		}
		if serviceID != nil && s.ServiceID != *serviceID {
			continue
		}
		first, last := s.DayRange()
		if last.Before(r.From) || first.After(r.To) {
			continue
		}
		if after != nil && !cursorLess(*after, Cursor{Day: first, ID: s.ID}) {
			continue
		}
		matched = append(matched, *clone(s))
	}

	sort.Slice(matched, func(i, j int) bool {
		fi, _ := matched[i].DayRange()
		fj, _ := matched[j].DayRange()
		return cursorLess(Cursor{Day: fi, ID: matched[i].ID}, Cursor{Day: fj, ID: matched[j].ID})
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func cursorLess(a, b Cursor) bool {
	if !a.Day.Equal(b.Day) {
		return a.Day.Before(b.Day)
	}
	return a.ID.String() < b.ID.String()
}
