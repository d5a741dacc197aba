package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

// Ledger credits and debits appointment amounts. appointment.MemoryStore
// satisfies it.
type Ledger interface {
	AddPaid(ctx context.Context, id uuid.UUID, delta int64) (*appointment.Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

// MemoryStore keeps payments in process. Completion and crediting happen
// under one mutex so a replay can never credit twice.
type MemoryStore struct {
	mu       sync.Mutex
	ledger   Ledger
	payments map[uuid.UUID]Payment
	nextNo   int64
}

func NewMemoryStore(ledger Ledger) *MemoryStore {
	return &MemoryStore{ledger: ledger, payments: make(map[uuid.UUID]Payment), nextNo: 100000}
}

func (m *MemoryStore) CreatePending(_ context.Context, p *Payment) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.payments {
		if existing.AppointmentID == p.AppointmentID && existing.Stage == p.Stage && existing.Status == StatusPending {
			return nil, ErrDuplicatePending
		}
	}
	c := *p
	c.PaymentNo = m.nextNo
	m.nextNo++
	c.Status = StatusPending
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.payments[c.ID] = c
	return &c, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetByNo(_ context.Context, paymentNo int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payments {
		if p.PaymentNo == paymentNo {
			return &p, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) FindPending(_ context.Context, appointmentID uuid.UUID, stage Stage) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.payments {
		if p.AppointmentID == appointmentID && p.Stage == stage && p.Status == StatusPending {
			return &p, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Payment
	for _, p := range m.payments {
		if p.AppointmentID == appointmentID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PaymentNo < result[j].PaymentNo })
	return result, nil
}

func (m *MemoryStore) SetCheckout(_ context.Context, id uuid.UUID, url string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	p.CheckoutURL = &url
	p.UpdatedAt = time.Now()
	m.payments[id] = p
	return &p, nil
}

func (m *MemoryStore) Complete(ctx context.Context, id uuid.UUID, transactionID, gatewayStatus string) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return Completion{}, ErrPaymentNotFound
	}
	if p.Status != StatusPending {
		if p.GatewayTransactionID != nil && *p.GatewayTransactionID == transactionID {
			appt, err := m.ledger.GetByID(ctx, p.AppointmentID)
			if err != nil {
				return Completion{}, err
			}
			return Completion{Payment: &p, Appointment: appt}, nil
		}
		return Completion{}, ErrStatusChanged
	}
	for _, other := range m.payments {
		if other.GatewayTransactionID != nil && *other.GatewayTransactionID == transactionID {
			return Completion{}, ErrTransactionReused
		}
	}

	appt, err := m.ledger.AddPaid(ctx, p.AppointmentID, p.Amount)
	if err != nil {
		return Completion{}, err
	}
	p.Status = StatusCompleted
	p.GatewayTransactionID = &transactionID
	if gatewayStatus != "" {
		p.GatewayStatus = &gatewayStatus
	}
	p.UpdatedAt = time.Now()
	m.payments[id] = p
	return Completion{Payment: &p, Appointment: appt, Applied: true}, nil
}

func (m *MemoryStore) Refund(ctx context.Context, id uuid.UUID) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return Completion{}, ErrPaymentNotFound
	}
	if p.Status != StatusCompleted {
		return Completion{}, ErrStatusChanged
	}
	appt, err := m.ledger.AddPaid(ctx, p.AppointmentID, -p.Amount)
	if err != nil {
		return Completion{}, err
	}
	p.Status = StatusRefunded
	p.UpdatedAt = time.Now()
	m.payments[id] = p
	return Completion{Payment: &p, Appointment: appt, Applied: true}, nil
}

func (m *MemoryStore) Close(_ context.Context, id uuid.UUID, to Status, gatewayStatus string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if p.Status != StatusPending {
		return nil, ErrStatusChanged
	}
	p.Status = to
	if gatewayStatus != "" {
		p.GatewayStatus = &gatewayStatus
	}
	p.UpdatedAt = time.Now()
	m.payments[id] = p
	return &p, nil
}

func (m *MemoryStore) FindStalePending(_ context.Context, method Method, before time.Time, limit int) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Payment
	for _, p := range m.payments {
		if p.Status == StatusPending && p.Method == method && p.CreatedAt.Before(before) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
