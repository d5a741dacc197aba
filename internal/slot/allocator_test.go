package slot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
)

var admin = auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}

func newTestAllocator() (*Allocator, *MemoryStore) {
	store := NewMemoryStore()
	return NewAllocator(store, redisclient.NewLocalLocker(), nil, zerolog.Nop()), store
}

func window(day int, start, end string) TimeWindow {
	return TimeWindow{Year: 2026, Month: 11, Day: day, StartTime: start, EndTime: end}
}

func mustCreate(t *testing.T, a *Allocator, staff uuid.UUID, limit int, windows ...TimeWindow) *Slot {
	t.Helper()
	s, err := a.CreateSlot(context.Background(), admin, CreateInput{
		StaffIDs:         []uuid.UUID{staff},
		ServiceID:        uuid.New(),
		Windows:          windows,
		AppointmentLimit: limit,
	})
	require.NoError(t, err)
	return s
}

func TestReserveCapacityConcurrentNeverOverbooks(t *testing.T) {
	a, store := newTestAllocator()
	const limit = 5
	s := mustCreate(t, a, uuid.New(), limit, window(3, "09:00", "10:00"))

	var ok, exceeded int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.ReserveCapacity(context.Background(), s.ID, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case apperr.KindOf(err) == apperr.KindCapacityExceeded:
				atomic.AddInt32(&exceeded, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), ok)
	assert.Equal(t, int32(40-limit), exceeded)

	got, err := store.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, limit, got.BookedCount)
	assert.Equal(t, StatusBooked, got.Status)
}

func TestReserveCapacityNthPlusOneFails(t *testing.T) {
	a, _ := newTestAllocator()
	s := mustCreate(t, a, uuid.New(), 2, window(3, "09:00", "10:00"))

	_, err := a.ReserveCapacity(context.Background(), s.ID, 1)
	require.NoError(t, err)
	_, err = a.ReserveCapacity(context.Background(), s.ID, 1)
	require.NoError(t, err)
	_, err = a.ReserveCapacity(context.Background(), s.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
}

func TestReserveCapacityErrors(t *testing.T) {
	a, _ := newTestAllocator()
	s := mustCreate(t, a, uuid.New(), 1, window(3, "09:00", "10:00"))
	ctx := context.Background()

	_, err := a.ReserveCapacity(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = a.ReserveCapacity(ctx, s.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = a.SetStatus(ctx, admin, s.ID, StatusUnavailable)
	require.NoError(t, err)
	_, err = a.ReserveCapacity(ctx, s.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
}

type releasingReclaimer struct {
	alloc *Allocator
	held  int
	calls int
}

func (r *releasingReclaimer) ReclaimLapsed(ctx context.Context, slotID uuid.UUID) (int, error) {
	r.calls++
	if r.held == 0 {
		return 0, nil
	}
	r.held--
	return 1, r.alloc.ReleaseCapacity(ctx, slotID, 1)
}

func TestReserveCapacityReclaimsLapsedHolds(t *testing.T) {
	a, _ := newTestAllocator()
	s := mustCreate(t, a, uuid.New(), 1, window(3, "09:00", "10:00"))
	ctx := context.Background()
	_, err := a.ReserveCapacity(ctx, s.ID, 1)
	require.NoError(t, err)

	r := &releasingReclaimer{alloc: a, held: 1}
	a.SetReclaimers(r)

	h, err := a.ReserveCapacity(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Count)
	assert.Equal(t, 1, r.calls)

	_, err = a.ReserveCapacity(ctx, s.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)
	assert.Equal(t, 2, r.calls, "nothing reclaimed means no retry")
}

func TestReclaimSkippedForUnavailableSlot(t *testing.T) {
	a, _ := newTestAllocator()
	s := mustCreate(t, a, uuid.New(), 1, window(3, "09:00", "10:00"))
	ctx := context.Background()
	r := &releasingReclaimer{alloc: a}
	a.SetReclaimers(r)

	_, err := a.SetStatus(ctx, admin, s.ID, StatusUnavailable)
	require.NoError(t, err)
	_, err = a.ReserveCapacity(ctx, s.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	assert.Zero(t, r.calls)
}

func TestReleaseCapacityBounds(t *testing.T) {
	a, store := newTestAllocator()
	s := mustCreate(t, a, uuid.New(), 1, window(3, "09:00", "10:00"))
	ctx := context.Background()

	err := a.ReleaseCapacity(ctx, s.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrInvalidRelease)

	h, err := a.ReserveCapacity(ctx, s.ID, 1)
	require.NoError(t, err)
	got, _ := store.GetByID(ctx, s.ID)
	assert.Equal(t, StatusBooked, got.Status)

	require.NoError(t, a.Release(ctx, h))
	got, _ = store.GetByID(ctx, s.ID)
	assert.Equal(t, 0, got.BookedCount)
	assert.Equal(t, StatusAvailable, got.Status)

	assert.ErrorIs(t, a.Release(ctx, h), apperr.ErrInvalidRelease)
	got, _ = store.GetByID(ctx, s.ID)
	assert.Equal(t, 0, got.BookedCount)
}

func TestCreateSlotOverlapRejection(t *testing.T) {
	a, _ := newTestAllocator()
	staff := uuid.New()
	mustCreate(t, a, staff, 1, window(10, "09:30", "10:30"))

	_, err := a.CreateSlot(context.Background(), admin, CreateInput{
		StaffIDs:         []uuid.UUID{staff},
		ServiceID:        uuid.New(),
		Windows:          []TimeWindow{window(10, "09:00", "10:00")},
		AppointmentLimit: 1,
	})
	assert.ErrorIs(t, err, apperr.ErrSlotOverlap)

	_, err = a.CreateSlot(context.Background(), admin, CreateInput{
		StaffIDs:         []uuid.UUID{staff},
		ServiceID:        uuid.New(),
		Windows:          []TimeWindow{window(10, "10:30", "11:00")},
		AppointmentLimit: 1,
	})
	assert.NoError(t, err, "touching windows do not overlap")

	// different staff or different day never conflicts
	mustCreate(t, a, uuid.New(), 1, window(10, "09:00", "10:00"))
	mustCreate(t, a, staff, 1, window(11, "09:00", "10:00"))
}

func TestCreateSlotTouchingWindowSucceeds(t *testing.T) {
	a, _ := newTestAllocator()
	staff := uuid.New()
	mustCreate(t, a, staff, 1, window(12, "09:00", "10:00"))
	mustCreate(t, a, staff, 1, window(12, "10:00", "11:00"))
}

func TestCreateSlotValidation(t *testing.T) {
	a, _ := newTestAllocator()
	ctx := context.Background()
	base := CreateInput{StaffIDs: []uuid.UUID{uuid.New()}, ServiceID: uuid.New(), AppointmentLimit: 1}

	tests := []struct {
		name    string
		windows []TimeWindow
		limit   int
	}{
		{"no windows", nil, 1},
		{"zero limit", []TimeWindow{window(3, "09:00", "10:00")}, 0},
		{"end before start", []TimeWindow{window(3, "10:00", "09:00")}, 1},
		{"bad clock", []TimeWindow{window(3, "9am", "10:00")}, 1},
		{"bad date", []TimeWindow{{Year: 2026, Month: 2, Day: 30, StartTime: "09:00", EndTime: "10:00"}}, 1},
		{"self overlap", []TimeWindow{window(3, "09:00", "10:00"), window(3, "09:30", "10:30")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Windows = tt.windows
			in.AppointmentLimit = tt.limit
			_, err := a.CreateSlot(ctx, admin, in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}

	_, err := a.CreateSlot(ctx, auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}, base)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestListAvailableIsLazyAndRestartable(t *testing.T) {
	a, _ := newTestAllocator()
	a.pageSize = 2
	ctx := context.Background()

	var full *Slot
	for day := 1; day <= 5; day++ {
		s := mustCreate(t, a, uuid.New(), 1, window(day, "09:00", "10:00"))
		if day == 3 {
			full = s
		}
	}
	mustCreate(t, a, uuid.New(), 1, window(20, "09:00", "10:00"))
	_, err := a.ReserveCapacity(ctx, full.ID, 1)
	require.NoError(t, err)

	r := DateRange{From: time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC)}
	seq := a.ListAvailable(ctx, r, nil)

	collect := func() []uuid.UUID {
		var ids []uuid.UUID
		for s, err := range seq {
			require.NoError(t, err)
			assert.Equal(t, StatusAvailable, s.Status)
			ids = append(ids, s.ID)
		}
		return ids
	}

	first := collect()
	assert.Len(t, first, 4)
	assert.NotContains(t, first, full.ID)
	assert.Equal(t, first, collect(), "ranging again restarts the query")

	var taken int
	for range seq {
		taken++
		if taken == 1 {
			break
		}
	}
	assert.Equal(t, 1, taken)
}

func TestSetStatusReopenDerivesFromCapacity(t *testing.T) {
	a, _ := newTestAllocator()
	ctx := context.Background()
	s := mustCreate(t, a, uuid.New(), 1, window(3, "09:00", "10:00"))

	_, err := a.ReserveCapacity(ctx, s.ID, 1)
	require.NoError(t, err)

	off, err := a.SetStatus(ctx, admin, s.ID, StatusUnavailable)
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, off.Status)

	back, err := a.SetStatus(ctx, admin, s.ID, StatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, back.Status)

	_, err = a.SetStatus(ctx, admin, s.ID, StatusBooked)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = a.SetStatus(ctx, auth.Principal{Role: auth.RoleCustomer}, s.ID, StatusUnavailable)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestFinalizeHoldAttachesOnSingleCapacity(t *testing.T) {
	a, store := newTestAllocator()
	ctx := context.Background()
	s := mustCreate(t, a, uuid.New(), 1, window(3, "09:00", "10:00"))
	apptID := uuid.New()

	_, err := a.ReserveCapacity(ctx, s.ID, 1)
	require.NoError(t, err)
	require.NoError(t, a.FinalizeHold(ctx, s.ID, apptID))

	got, _ := store.GetByID(ctx, s.ID)
	require.NotNil(t, got.AppointmentID)
	assert.Equal(t, apptID, *got.AppointmentID)

	require.NoError(t, a.ReleaseCapacity(ctx, s.ID, 1))
	got, _ = store.GetByID(ctx, s.ID)
	assert.Nil(t, got.AppointmentID)
}
