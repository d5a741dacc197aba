package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/catalog"
	"github.com/hackgods/dna-testing-scheduling/internal/expiry"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
	"github.com/hackgods/dna-testing-scheduling/internal/notify"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

// reclaimBatch bounds how many lapsed holds one booking attempt expires.
const reclaimBatch = 20

type SlotHolds interface {
	ReserveCapacity(ctx context.Context, slotID uuid.UUID, count int) (slot.Handle, error)
	ReleaseCapacity(ctx context.Context, slotID uuid.UUID, count int) error
}

// Appointments creates the appointment a reservation converts into.
type Appointments interface {
	CreateFromHold(ctx context.Context, in appointment.HoldInput) (*appointment.Appointment, error)
	Lookup(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Notifications interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

type Deps struct {
	Slots        SlotHolds
	Appointments Appointments
	Catalog      catalog.Catalog
	Locker       redisclient.Locker
	Notifier     Notifications
	Metrics      *metrics.Metrics
}

type Service struct {
	store        Store
	slots        SlotHolds
	appointments Appointments
	catalog      catalog.Catalog
	locker       redisclient.Locker
	notifier     Notifications
	metrics      *metrics.Metrics
	policy       expiry.Policy
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(store Store, deps Deps, policy expiry.Policy, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		slots:        deps.Slots,
		appointments: deps.Appointments,
		catalog:      deps.Catalog,
		locker:       deps.Locker,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		policy:       policy,
		logger:       logger.With().Str("component", "reservation_service").Logger(),
		now:          time.Now,
	}
}

type CreateInput struct {
	CustomerID     uuid.UUID
	ServiceID      uuid.UUID
	TestingNeed    string
	PreferredDate  *time.Time
	PreferredSlots []string
	SlotID         *uuid.UUID
	TotalAmount    *int64
	DepositAmount  *int64
}

// Create records a pending reservation. When a slot is named, one place is
// held on it until the reservation expires, is cancelled or converts.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (*Reservation, error) {
	if in.CustomerID == uuid.Nil && p.Role == auth.RoleCustomer {
		in.CustomerID = p.ID
	}
	if err := auth.RequireOwnerOr(p, in.CustomerID, "reserve for another customer", auth.Operators...); err != nil {
		return nil, err
	}
	if in.CustomerID == uuid.Nil || in.ServiceID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "customer and service are required")
	}

	svc, err := s.catalog.Lookup(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	if in.TotalAmount != nil {
		svc.Price = *in.TotalAmount
		svc.DepositAmount = 0
	}
	svc = catalog.Fill(svc, in.DepositAmount, nil)
	if svc.Price < 0 || svc.DepositAmount < 0 || svc.DepositAmount > svc.Price {
		return nil, apperr.New(apperr.KindInvalidInput, "deposit %d must be within total %d", svc.DepositAmount, svc.Price)
	}

	now := s.now()
	r := &Reservation{
		ID:             uuid.New(),
		CustomerID:     in.CustomerID,
		ServiceID:      in.ServiceID,
		TestingNeed:    in.TestingNeed,
		PreferredDate:  in.PreferredDate,
		PreferredSlots: in.PreferredSlots,
		SlotID:         in.SlotID,
		TotalAmount:    svc.Price,
		DepositAmount:  svc.DepositAmount,
		Status:         StatusPending,
		PaymentStatus:  PaymentUnpaid,
		ExpiresAt:      s.policy.ExpiresAt(now),
	}

	var handle slot.Handle
	if in.SlotID != nil {
		handle, err = s.slots.ReserveCapacity(ctx, *in.SlotID, 1)
		if err != nil {
			return nil, err
		}
		r.HoldCount = handle.Count
	}

	created, err := s.store.Create(ctx, r)
	if err != nil {
		if r.HoldCount > 0 {
			if relErr := s.slots.ReleaseCapacity(context.WithoutCancel(ctx), handle.SlotID, handle.Count); relErr != nil {
				s.logger.Error().Err(relErr).Str("slot", handle.String()).Msg("failed to roll back slot hold after create failure")
			}
		}
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	s.logger.Info().
		Str("reservation_id", created.ID.String()).
		Str("customer_id", created.CustomerID.String()).
		Int("hold_count", created.HoldCount).
		Time("expires_at", created.ExpiresAt).
		Msg("reservation created")
	return created, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.store.GetByID(ctx, id)
	if errors.Is(err, ErrReservationNotFound) {
		return nil, apperr.NotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return r, nil
}

// Get returns the reservation to its owner or to staff. A pending reservation
// past its expiry is expired on read and its hold released.
func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*Reservation, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwnerOr(p, r.CustomerID, "view this reservation", auth.Operators...); err != nil {
		return nil, err
	}
	if !s.lapsed(r) {
		return r, nil
	}

	var current *Reservation
	err = s.withLock(ctx, id, func(lockCtx context.Context) error {
		current, err = s.expireIfLapsed(lockCtx, id)
		return err
	})
	return current, err
}

func (s *Service) ListByCustomer(ctx context.Context, p auth.Principal, customerID uuid.UUID) ([]Reservation, error) {
	if err := auth.RequireOwnerOr(p, customerID, "list reservations", auth.Operators...); err != nil {
		return nil, err
	}
	list, err := s.store.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if s.lapsed(&list[i]) {
			list[i].Status = StatusExpired
		}
	}
	return list, nil
}

// Confirm is a staff action. A confirmed reservation no longer expires but
// keeps its slot hold until it converts or is cancelled.
func (s *Service) Confirm(ctx context.Context, p auth.Principal, id uuid.UUID) (*Reservation, error) {
	if err := auth.Require(p, "confirm reservations", auth.Operators...); err != nil {
		return nil, err
	}
	var updated *Reservation
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		r, err := s.loadLive(lockCtx, id)
		if err != nil {
			return err
		}
		updated, _, err = s.transition(lockCtx, r, Transition{From: r.Status, To: StatusConfirmed})
		return err
	})
	return updated, err
}

// Cancel releases the hold. Owners may cancel their own reservation.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID) (*Reservation, error) {
	var updated *Reservation
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		r, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if err := auth.RequireOwnerOr(p, r.CustomerID, "cancel this reservation", auth.Operators...); err != nil {
			return err
		}
		if r, err = s.loadLive(lockCtx, id); err != nil {
			return err
		}
		var prior int
		updated, prior, err = s.transition(lockCtx, r, Transition{From: r.Status, To: StatusCancelled, ReleaseHold: true})
		if err != nil {
			return err
		}
		s.releaseHold(lockCtx, updated, prior)
		return nil
	})
	return updated, err
}

type ConvertInput struct {
	CollectionType    string
	CollectionAddress *string
}

// Convert turns a live reservation into a pending appointment that takes over
// its slot hold. Converting twice returns the same appointment.
func (s *Service) Convert(ctx context.Context, p auth.Principal, id uuid.UUID, in ConvertInput) (*Reservation, *appointment.Appointment, error) {
	var (
		updated *Reservation
		appt    *appointment.Appointment
	)
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		r, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if err := auth.RequireOwnerOr(p, r.CustomerID, "convert this reservation", auth.Operators...); err != nil {
			return err
		}
		if r.Status == StatusConverted && r.ConvertedToAppointmentID != nil {
			updated = r
			appt, err = s.appointments.Lookup(lockCtx, *r.ConvertedToAppointmentID)
			return err
		}
		if r, err = s.loadLive(lockCtx, id); err != nil {
			return err
		}

		apptID := uuid.New()
		from := r.Status
		converted, prior, err := s.transition(lockCtx, r, Transition{From: from, To: StatusConverted, ConvertedTo: &apptID, ReleaseHold: true})
		if err != nil {
			return err
		}

		hold := appointment.HoldInput{
			ID:                apptID,
			CustomerID:        r.CustomerID,
			ServiceID:         r.ServiceID,
			TotalAmount:       r.TotalAmount,
			DepositAmount:     r.DepositAmount,
			CollectionType:    in.CollectionType,
			CollectionAddress: in.CollectionAddress,
		}
		if prior > 0 && r.SlotID != nil {
			slotID := *r.SlotID
			hold.SlotID = &slotID
		}
		if from == StatusPending {
			expiresAt := r.ExpiresAt
			hold.HoldExpiresAt = &expiresAt
		}

		appt, err = s.appointments.CreateFromHold(lockCtx, hold)
		if err != nil {
			if _, uerr := s.store.UndoConversion(context.WithoutCancel(lockCtx), id, from, prior); uerr != nil {
				s.logger.Error().Err(uerr).
					Str("reservation_id", id.String()).
					Str("appointment_id", apptID.String()).
					Msg("failed to undo reservation conversion")
			}
			return err
		}
		updated = converted
		s.logger.Info().
			Str("reservation_id", id.String()).
			Str("appointment_id", appt.ID.String()).
			Msg("reservation converted")
		return nil
	})
	return updated, appt, err
}

// ExpireDue expires pending reservations whose expiry has passed and returns
// how many it expired.
func (s *Service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.store.FindExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	return s.expireAll(ctx, due, now), nil
}

// ReclaimLapsed expires the lapsed pending reservations holding places on the
// slot so a new booking can take them before the sweep runs.
func (s *Service) ReclaimLapsed(ctx context.Context, slotID uuid.UUID) (int, error) {
	now := s.now()
	due, err := s.store.FindLapsedOnSlot(ctx, slotID, now, reclaimBatch)
	if err != nil {
		return 0, err
	}
	return s.expireAll(ctx, due, now), nil
}

func (s *Service) expireAll(ctx context.Context, due []Reservation, now time.Time) int {
	expired := 0
	for _, c := range due {
		err := s.withLock(ctx, c.ID, func(lockCtx context.Context) error {
			r, err := s.store.GetByID(lockCtx, c.ID)
			if err != nil {
				return err
			}
			if r.Status != StatusPending || !s.policy.IsExpired(r.ExpiresAt, now) {
				return nil
			}
			if _, err := s.expire(lockCtx, r); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			s.logger.Error().Err(err).Str("reservation_id", c.ID.String()).Msg("failed to expire reservation")
		}
	}
	return expired
}

// RecordPayment refreshes the payment status of the reservation the
// appointment was converted from.
func (s *Service) RecordPayment(ctx context.Context, a *appointment.Appointment) error {
	status := PaymentStatusFor(a.TotalAmount, a.DepositAmount, a.AmountPaid)
	if err := s.store.SetPaymentStatus(ctx, a.ID, status); err != nil {
		return err
	}
	s.logger.Debug().
		Str("appointment_id", a.ID.String()).
		Str("payment_status", string(status)).
		Msg("reservation payment status updated")
	return nil
}

// ReleaseLeftovers retries hold releases that failed after expiry or cancellation.
func (s *Service) ReleaseLeftovers(ctx context.Context, limit int) (int, error) {
	leftovers, err := s.store.FindUnreleased(ctx, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range leftovers {
		r := &leftovers[i]
		prior, err := s.store.ClaimHold(ctx, r.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID.String()).Msg("failed to claim reservation hold")
			continue
		}
		if s.releaseHold(ctx, r, prior) {
			released++
		}
	}
	return released, nil
}

func (s *Service) lapsed(r *Reservation) bool {
	return r.Status == StatusPending && s.policy.IsExpired(r.ExpiresAt, s.now())
}

// loadLive reloads the reservation and expires it if it lapsed. A lapsed
// reservation is reported as Expired.
func (s *Service) loadLive(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.lapsed(r) {
		return r, nil
	}
	if _, err := s.expire(ctx, r); err != nil {
		return nil, err
	}
	return nil, apperr.New(apperr.KindExpired, "reservation %s expired at %s", id, r.ExpiresAt.Format(time.RFC3339))
}

func (s *Service) expireIfLapsed(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.lapsed(r) {
		return r, nil
	}
	return s.expire(ctx, r)
}

func (s *Service) expire(ctx context.Context, r *Reservation) (*Reservation, error) {
	updated, prior, err := s.transition(ctx, r, Transition{From: StatusPending, To: StatusExpired, ReleaseHold: true})
	if err != nil {
		return nil, err
	}
	s.releaseHold(ctx, updated, prior)
	s.metrics.ObserveExpired("reservation")

	if s.notifier != nil {
		id := updated.ID
		s.notifier.Dispatch(ctx, notify.Event{
			Type:          notify.EventReservationExpired,
			CustomerID:    updated.CustomerID,
			ReservationID: &id,
			Reason:        appointment.ReasonReservationExpired,
		})
	}
	return updated, nil
}

// releaseHold gives count places back to the slot. On failure the count is
// restored on the row so ReleaseLeftovers picks it up.
func (s *Service) releaseHold(ctx context.Context, r *Reservation, count int) bool {
	if count <= 0 || r.SlotID == nil {
		return false
	}
	ctx = context.WithoutCancel(ctx)

	if err := s.slots.ReleaseCapacity(ctx, *r.SlotID, count); err != nil {
		s.logger.Error().Err(err).
			Str("reservation_id", r.ID.String()).
			Str("slot_id", r.SlotID.String()).
			Int("count", count).
			Msg("reservation hold release failed, will retry")
		if rerr := s.store.RestoreHold(ctx, r.ID, count); rerr != nil {
			s.logger.Error().Err(rerr).Str("reservation_id", r.ID.String()).Msg("failed to restore reservation hold")
		}
		return false
	}
	return true
}

func (s *Service) transition(ctx context.Context, r *Reservation, t Transition) (*Reservation, int, error) {
	if err := CheckTransition(t.From, t.To); err != nil {
		return nil, 0, err
	}
	updated, prior, err := s.store.UpdateStatus(ctx, r.ID, t)
	if errors.Is(err, ErrStatusChanged) {
		current := t.From
		if fresh, gerr := s.store.GetByID(ctx, r.ID); gerr == nil {
			current = fresh.Status
		}
		return nil, 0, &apperr.TransitionError{Entity: "reservation", From: string(current), To: string(t.To)}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("update reservation status: %w", err)
	}

	s.logger.Info().
		Str("reservation_id", r.ID.String()).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Msg("reservation transitioned")
	return updated, prior, nil
}

func (s *Service) withLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, redisclient.ReservationKey(id), fn)
}
