package kit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu   sync.Mutex
	kits map[uuid.UUID]Kit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kits: make(map[uuid.UUID]Kit)}
}

func (m *MemoryStore) Create(_ context.Context, k *Kit) (*Kit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.kits {
		if existing.Code == k.Code {
			return nil, ErrDuplicateCode
		}
	}
	c := *k
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.kits[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Kit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.kits[id]
	if !ok {
		return nil, ErrKitNotFound
	}
	return &k, nil
}

func (m *MemoryStore) CountCodesWithPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, k := range m.kits {
		if strings.HasPrefix(k.Code, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, u Update) (*Kit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.kits[id]
	if !ok {
		return nil, ErrKitNotFound
	}
	if k.Status != u.From {
		return nil, ErrStatusChanged
	}
	k.Status = u.To
	k.AssignedTo = u.AssignedTo
	k.AdminCaseID = u.AdminCaseID
	k.AssignedAt = u.AssignedAt
	k.UpdatedAt = time.Now()
	m.kits[id] = k
	return &k, nil
}
