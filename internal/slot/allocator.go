package slot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
)

const defaultPageSize = 100

// Reclaimer expires lapsed holds on a slot ahead of the sweep and reports how
// many holds it expired.
type Reclaimer interface {
	ReclaimLapsed(ctx context.Context, slotID uuid.UUID) (int, error)
}

// Allocator decides whether a slot can take a booking and performs the
// capacity changes. Every reserve/release runs under the slot's lock and is
// additionally guarded by the store's conditional write.
type Allocator struct {
	store      Store
	locker     redisclient.Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	pageSize   int
	reclaimers []Reclaimer
}

func NewAllocator(store Store, locker redisclient.Locker, m *metrics.Metrics, logger zerolog.Logger) *Allocator {
	return &Allocator{
		store:    store,
		locker:   locker,
		metrics:  m,
		logger:   logger.With().Str("component", "slot_allocator").Logger(),
		pageSize: defaultPageSize,
	}
}

type CreateInput struct {
	StaffIDs         []uuid.UUID
	ServiceID        uuid.UUID
	Windows          []TimeWindow
	AppointmentLimit int
}

// SetReclaimers registers the holders whose lapsed holds are expired when a
// reservation finds the slot full.
func (a *Allocator) SetReclaimers(r ...Reclaimer) {
	a.reclaimers = r
}

func (in CreateInput) validate() error {
	if len(in.StaffIDs) == 0 {
		return apperr.New(apperr.KindInvalidInput, "at least one staff member is required")
	}
	if in.ServiceID == uuid.Nil {
		return apperr.New(apperr.KindInvalidInput, "service is required")
	}
	if len(in.Windows) == 0 {
		return apperr.New(apperr.KindInvalidInput, "at least one time window is required")
	}
	if in.AppointmentLimit < 1 {
		return apperr.New(apperr.KindInvalidInput, "appointment_limit must be at least 1")
	}
	for i, w := range in.Windows {
		if err := w.Validate(); err != nil {
			return err
		}
		for _, o := range in.Windows[i+1:] {
			if w.Overlaps(o) {
				return apperr.New(apperr.KindInvalidInput, "time windows of one slot overlap each other")
			}
		}
	}
	return nil
}

// CreateSlot validates the windows and rejects the slot if any shared staff
// member already has an overlapping slot.
func (a *Allocator) CreateSlot(ctx context.Context, p auth.Principal, in CreateInput) (*Slot, error) {
	if err := auth.Require(p, "create slots", auth.RoleManager, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(in.StaffIDs))
	for _, id := range in.StaffIDs {
		keys = append(keys, redisclient.StaffKey(id))
	}
	sort.Strings(keys)

	var created *Slot
	err := a.withLocks(ctx, keys, func(lockCtx context.Context) error {
		conflicts, err := a.FindOverlapping(lockCtx, in.StaffIDs, in.Windows)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return apperr.Wrap(apperr.KindSlotOverlap, apperr.ErrSlotOverlap, "conflicts with slot %s", conflicts[0].ID)
		}

		created, err = a.store.Create(lockCtx, &Slot{
			ID:               uuid.New(),
			StaffIDs:         in.StaffIDs,
			ServiceID:        in.ServiceID,
			Windows:          in.Windows,
			AppointmentLimit: in.AppointmentLimit,
			Status:           StatusAvailable,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("slot_id", created.ID.String()).
		Int("appointment_limit", created.AppointmentLimit).
		Msg("slot created")
	return created, nil
}

func (a *Allocator) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 || a.locker == nil {
		return fn(ctx)
	}
	return a.locker.WithLock(ctx, keys[0], func(lockCtx context.Context) error {
		return a.withLocks(lockCtx, keys[1:], fn)
	})
}

func (a *Allocator) Get(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := a.store.GetByID(ctx, id)
	if err != nil {
		return nil, a.mapStoreErr(err, id)
	}
	return s, nil
}

// ReserveCapacity atomically takes count places on the slot. When the slot
// is full, lapsed holds on it are expired and the reservation is tried once
// more.
func (a *Allocator) ReserveCapacity(ctx context.Context, slotID uuid.UUID, count int) (Handle, error) {
	if count < 1 {
		return Handle{}, apperr.New(apperr.KindInvalidInput, "requested count must be at least 1")
	}

	reserved, err := a.tryReserve(ctx, slotID, count)
	if errors.Is(err, apperr.ErrCapacityExceeded) && a.reclaim(ctx, slotID) > 0 {
		reserved, err = a.tryReserve(ctx, slotID, count)
	}
	if err != nil {
		a.metrics.ObserveReservation(string(apperr.KindOf(err)))
		return Handle{}, err
	}

	a.metrics.ObserveReservation("ok")
	a.logger.Debug().
		Str("slot_id", slotID.String()).
		Int("booked", reserved.BookedCount).
		Int("limit", reserved.AppointmentLimit).
		Msg("capacity reserved")
	return Handle{SlotID: slotID, Count: count}, nil
}

func (a *Allocator) tryReserve(ctx context.Context, slotID uuid.UUID, count int) (*Slot, error) {
	var reserved *Slot
	err := a.withLocks(ctx, []string{redisclient.SlotKey(slotID)}, func(lockCtx context.Context) error {
		s, err := a.store.TryReserve(lockCtx, slotID, count)
		if errors.Is(err, ErrNotApplied) {
			return a.classifyReserveFailure(lockCtx, slotID, count)
		}
		if err != nil {
			return fmt.Errorf("reserve slot capacity: %w", err)
		}
		reserved = s
		return nil
	})
	return reserved, err
}

// reclaim runs outside the slot lock since expiring a hold releases capacity
// through ReleaseCapacity.
func (a *Allocator) reclaim(ctx context.Context, slotID uuid.UUID) int {
	total := 0
	for _, r := range a.reclaimers {
		n, err := r.ReclaimLapsed(ctx, slotID)
		if err != nil {
			a.logger.Warn().Err(err).Str("slot_id", slotID.String()).Msg("failed to reclaim lapsed holds")
		}
		total += n
	}
	if total > 0 {
		a.logger.Info().Str("slot_id", slotID.String()).Int("expired", total).Msg("lapsed holds expired on booking")
	}
	return total
}

func (a *Allocator) classifyReserveFailure(ctx context.Context, slotID uuid.UUID, count int) error {
	s, err := a.store.GetByID(ctx, slotID)
	if err != nil {
		return a.mapStoreErr(err, slotID)
	}
	if s.Status == StatusUnavailable {
		return apperr.Wrap(apperr.KindSlotUnavailable, apperr.ErrSlotUnavailable, "slot %s", slotID)
	}
	return apperr.Wrap(apperr.KindCapacityExceeded, apperr.ErrCapacityExceeded,
		"slot %s has %d of %d booked, requested %d", slotID, s.BookedCount, s.AppointmentLimit, count)
}

// ReleaseCapacity gives count places back. Releasing more than is booked is
// an invariant violation and fails with ErrInvalidRelease.
func (a *Allocator) ReleaseCapacity(ctx context.Context, slotID uuid.UUID, count int) error {
	if count < 1 {
		return apperr.New(apperr.KindInvalidInput, "release count must be at least 1")
	}

	err := a.withLocks(ctx, []string{redisclient.SlotKey(slotID)}, func(lockCtx context.Context) error {
		_, err := a.store.TryRelease(lockCtx, slotID, count)
		if errors.Is(err, ErrNotApplied) {
			s, gerr := a.store.GetByID(lockCtx, slotID)
			if gerr != nil {
				return a.mapStoreErr(gerr, slotID)
			}
			return apperr.Wrap(apperr.KindInvalidRelease, apperr.ErrInvalidRelease,
				"slot %s has %d booked, release of %d rejected", slotID, s.BookedCount, count)
		}
		if err != nil {
			return fmt.Errorf("release slot capacity: %w", err)
		}
		return nil
	})
	if err != nil {
		a.metrics.ObserveRelease(string(apperr.KindOf(err)))
		return err
	}
	a.metrics.ObserveRelease("ok")
	return nil
}

func (a *Allocator) Release(ctx context.Context, h Handle) error {
	return a.ReleaseCapacity(ctx, h.SlotID, h.Count)
}

// FinalizeHold turns a hold into a firm booking by recording the appointment
// on single-capacity slots.
func (a *Allocator) FinalizeHold(ctx context.Context, slotID, appointmentID uuid.UUID) error {
	if err := a.store.AttachAppointment(ctx, slotID, appointmentID); err != nil {
		return a.mapStoreErr(err, slotID)
	}
	return nil
}

// FindOverlapping returns existing slots sharing a staff member whose windows
// intersect any of windows.
func (a *Allocator) FindOverlapping(ctx context.Context, staffIDs []uuid.UUID, windows []TimeWindow) ([]Slot, error) {
	if len(staffIDs) == 0 || len(windows) == 0 {
		return nil, nil
	}
	first, last := Slot{Windows: windows}.DayRange()

	candidates, err := a.store.FindByStaff(ctx, staffIDs, first, last)
	if err != nil {
		return nil, fmt.Errorf("find overlapping slots: %w", err)
	}

	var conflicts []Slot
	for _, s := range candidates {
		if s.OverlapsAny(windows) {
			conflicts = append(conflicts, s)
		}
	}
	return conflicts, nil
}

// ListAvailable lazily pages through available slots in r. The sequence is
// finite, read-only and can be ranged over again to restart the query.
func (a *Allocator) ListAvailable(ctx context.Context, r DateRange, serviceID *uuid.UUID) iter.Seq2[Slot, error] {
	r = r.normalized()
	return func(yield func(Slot, error) bool) {
		var after *Cursor
		for {
			page, err := a.store.ListAvailablePage(ctx, r, serviceID, after, a.pageSize)
			if err != nil {
				yield(Slot{}, err)
				return
			}
			for _, s := range page {
				if !yield(s, nil) {
					return
				}
			}
			if len(page) < a.pageSize {
				return
			}
			last := page[len(page)-1]
			first, _ := last.DayRange()
			after = &Cursor{Day: first, ID: last.ID}
		}
	}
}

// SetStatus lets operators take a slot offline or reopen it. Reopening
// derives available/booked from the booked count.
func (a *Allocator) SetStatus(ctx context.Context, p auth.Principal, id uuid.UUID, status Status) (*Slot, error) {
	if err := auth.Require(p, "change slot status", auth.Operators...); err != nil {
		return nil, err
	}

	var updated *Slot
	err := a.withLocks(ctx, []string{redisclient.SlotKey(id)}, func(lockCtx context.Context) error {
		var err error
		switch status {
		case StatusUnavailable:
			updated, err = a.store.MarkUnavailable(lockCtx, id)
		case StatusAvailable:
			updated, err = a.store.Reopen(lockCtx, id)
		case StatusBooked:
			return apperr.New(apperr.KindInvalidInput, "booked is derived from capacity and cannot be set")
		default:
			return apperr.New(apperr.KindInvalidInput, "unknown slot status %q", status)
		}
		if err != nil {
			return a.mapStoreErr(err, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("slot_id", id.String()).
		Str("status", string(updated.Status)).
		Str("by", p.ID.String()).
		Msg("slot status changed")
	return updated, nil
}

func (a *Allocator) mapStoreErr(err error, id uuid.UUID) error {
	if errors.Is(err, ErrSlotNotFound) {
		return apperr.NotFound("slot", id)
	}
	return err
}
