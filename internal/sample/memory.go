package sample

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.Mutex
	samples map[uuid.UUID]Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[uuid.UUID]Sample)}
}

func (m *MemoryStore) Create(_ context.Context, s *Sample) (*Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *s
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.samples[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.samples[id]
	if !ok {
		return nil, ErrSampleNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Sample
	for _, s := range m.samples {
		if s.AppointmentID == appointmentID {
			result = append(result, s)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, resultRef *string) (*Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.samples[id]
	if !ok {
		return nil, ErrSampleNotFound
	}
	if s.Status != from {
		return nil, ErrStatusChanged
	}
	s.Status = to
	if resultRef != nil {
		ref := *resultRef
		s.ResultRef = &ref
	}
	s.UpdatedAt = time.Now()
	m.samples[id] = s
	return &s, nil
}
