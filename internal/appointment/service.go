package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/catalog"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
	"github.com/hackgods/dna-testing-scheduling/internal/notify"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
	"github.com/hackgods/dna-testing-scheduling/internal/sample"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventSampleCollected      = "SAMPLE_COLLECTED"
	EventTestingStarted       = "TESTING_STARTED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
	EventKitAssigned          = "KIT_ASSIGNED"
	EventSlotReleaseFailed    = "SLOT_RELEASE_FAILED"
	EventKitNeedsReview       = "KIT_NEEDS_REVIEW"
)

// reclaimBatch bounds how many lapsed holds one booking attempt expires.
const reclaimBatch = 20

const (
	ReasonHoldExpired        = "hold expired"
	ReasonReservationExpired = "reservation expired"
)

// SlotHolds is the part of the slot allocator the state machine drives.
type SlotHolds interface {
	ReserveCapacity(ctx context.Context, slotID uuid.UUID, count int) (slot.Handle, error)
	ReleaseCapacity(ctx context.Context, slotID uuid.UUID, count int) error
	FinalizeHold(ctx context.Context, slotID, appointmentID uuid.UUID) error
}

type Kits interface {
	Assign(ctx context.Context, p auth.Principal, id, userID uuid.UUID) (*kit.Kit, error)
	MarkUsed(ctx context.Context, p auth.Principal, id uuid.UUID) (*kit.Kit, error)
	ReleaseIfAssigned(ctx context.Context, id uuid.UUID) (*kit.Kit, bool, error)
}

// BalanceRequester issues the remaining-balance payment once testing completes.
type BalanceRequester interface {
	RequestRemaining(ctx context.Context, appointmentID uuid.UUID) error
}

type Notifications interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

type Deps struct {
	Slots    SlotHolds
	Kits     Kits
	Samples  sample.Store
	Catalog  catalog.Catalog
	Locker   redisclient.Locker
	Notifier Notifications
	Metrics  *metrics.Metrics
}

type Service struct {
	repo     Repository
	slots    SlotHolds
	kits     Kits
	samples  sample.Store
	catalog  catalog.Catalog
	locker   redisclient.Locker
	notifier Notifications
	metrics  *metrics.Metrics
	balance  BalanceRequester
	holdTTL  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, deps Deps, holdTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		slots:    deps.Slots,
		kits:     deps.Kits,
		samples:  deps.Samples,
		catalog:  deps.Catalog,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		holdTTL:  holdTTL,
		logger:   logger.With().Str("component", "appointment_service").Logger(),
		now:      time.Now,
	}
}

// SetBalanceRequester wires the payment side after both services exist.
func (s *Service) SetBalanceRequester(b BalanceRequester) {
	s.balance = b
}

type BookInput struct {
	CustomerID        uuid.UUID
	ServiceID         uuid.UUID
	SlotID            uuid.UUID
	CollectionType    string
	CollectionAddress *string
}

// Book reserves one place on the slot and creates a pending appointment that
// holds it until HoldExpiresAt. The hold is released if creation fails.
func (s *Service) Book(ctx context.Context, p auth.Principal, in BookInput) (*Appointment, error) {
	if in.CustomerID == uuid.Nil && p.Role == auth.RoleCustomer {
		in.CustomerID = p.ID
	}
	if err := auth.RequireOwnerOr(p, in.CustomerID, "book for another customer", auth.Operators...); err != nil {
		return nil, err
	}
	if in.CustomerID == uuid.Nil || in.ServiceID == uuid.Nil || in.SlotID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "customer, service and slot are required")
	}

	svc, err := s.catalog.Lookup(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}

	handle, err := s.slots.ReserveCapacity(ctx, in.SlotID, 1)
	if err != nil {
		return nil, err
	}

	collectionType := svc.CollectionType
	if in.CollectionType != "" {
		collectionType = in.CollectionType
	}
	expiresAt := s.now().Add(s.holdTTL)
	slotID := in.SlotID

	created, err := s.repo.Create(ctx, &Appointment{
		ID:                uuid.New(),
		CustomerID:        in.CustomerID,
		ServiceID:         in.ServiceID,
		SlotID:            &slotID,
		Status:            StatusPending,
		TotalAmount:       svc.Price,
		DepositAmount:     svc.DepositAmount,
		CollectionType:    collectionType,
		CollectionAddress: in.CollectionAddress,
		HoldExpiresAt:     &expiresAt,
	})
	if err != nil {
		if relErr := s.slots.ReleaseCapacity(context.WithoutCancel(ctx), handle.SlotID, handle.Count); relErr != nil {
			s.logger.Error().Err(relErr).Str("slot", handle.String()).Msg("failed to roll back slot hold after create failure")
		}
		return nil, fmt.Errorf("create pending appointment: %w", err)
	}

	s.metrics.ObserveTransition("new", string(StatusPending))
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"slot_id":     slotID.String(),
		"customer_id": in.CustomerID.String(),
		"expires_at":  expiresAt,
	})
	s.notify(ctx, notify.EventAppointmentBooked, created)
	return created, nil
}

// HoldInput describes an appointment created from a reservation whose slot
// capacity is already held.
type HoldInput struct {
	ID                uuid.UUID
	CustomerID        uuid.UUID
	ServiceID         uuid.UUID
	SlotID            *uuid.UUID
	TotalAmount       int64
	DepositAmount     int64
	CollectionType    string
	CollectionAddress *string
	HoldExpiresAt     *time.Time
}

// CreateFromHold is idempotent on in.ID: a second call returns the existing
// appointment.
func (s *Service) CreateFromHold(ctx context.Context, in HoldInput) (*Appointment, error) {
	if in.ID == uuid.Nil {
		return nil, apperr.New(apperr.KindInvalidInput, "appointment id is required")
	}
	if in.DepositAmount > in.TotalAmount {
		return nil, apperr.New(apperr.KindInvalidInput, "deposit %d exceeds total %d", in.DepositAmount, in.TotalAmount)
	}
	if existing, err := s.repo.GetByID(ctx, in.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}
	if in.CollectionType == "" {
		in.CollectionType = catalog.DefaultCollectionType
	}

	created, err := s.repo.Create(ctx, &Appointment{
		ID:                in.ID,
		CustomerID:        in.CustomerID,
		ServiceID:         in.ServiceID,
		SlotID:            in.SlotID,
		Status:            StatusPending,
		TotalAmount:       in.TotalAmount,
		DepositAmount:     in.DepositAmount,
		CollectionType:    in.CollectionType,
		CollectionAddress: in.CollectionAddress,
		HoldExpiresAt:     in.HoldExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment from hold: %w", err)
	}

	s.metrics.ObserveTransition("new", string(StatusPending))
	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"customer_id": in.CustomerID.String(),
		"source":      "reservation",
	})
	return created, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, apperr.NotFound("appointment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

// Get returns the appointment to its owner or to staff.
func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwnerOr(p, a.CustomerID, "view this appointment", auth.Lab...); err != nil {
		return nil, err
	}
	return a, nil
}

// Lookup reads an appointment without an authorization check. It serves
// internal collaborators such as the payment coordinator.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.load(ctx, id)
}

func (s *Service) ListByCustomer(ctx context.Context, p auth.Principal, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if err := auth.RequireOwnerOr(p, customerID, "list appointments of another customer", auth.Operators...); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByCustomer(ctx, customerID, limit, offset)
}

// Confirm is the staff manual confirmation path.
func (s *Service) Confirm(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	if err := auth.Require(p, "confirm appointments", auth.Operators...); err != nil {
		return nil, err
	}
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		var err error
		updated, err = s.confirm(lockCtx, id, "staff")
		return err
	})
	return updated, err
}

// ConfirmDeposit runs when the deposit payment completes. An appointment that
// is already past pending is returned unchanged.
func (s *Service) ConfirmDeposit(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		switch a.Status {
		case StatusConfirmed, StatusSampleCollected, StatusTesting, StatusCompleted:
			updated = a
			return nil
		case StatusPending:
			updated, err = s.confirm(lockCtx, id, "deposit")
			return err
		case StatusCancelled:
			return CheckTransition(a.Status, StatusConfirmed)
		}
		return fmt.Errorf("appointment %s has unknown status %q", id, a.Status)
	})
	return updated, err
}

func (s *Service) confirm(ctx context.Context, id uuid.UUID, by string) (*Appointment, error) {
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, a, Transition{From: a.Status, To: StatusConfirmed, ClearHold: true})
	if err != nil {
		return nil, err
	}

	if updated.SlotID != nil {
		if err := s.slots.FinalizeHold(ctx, *updated.SlotID, updated.ID); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", id.String()).Msg("failed to attach appointment to slot")
		}
	}

	s.logEvent(ctx, id, EventAppointmentConfirmed, map[string]any{"by": by})
	s.notify(ctx, notify.EventAppointmentConfirmed, updated)
	return updated, nil
}

// AssignKit hands an available kit to the customer for this appointment.
func (s *Service) AssignKit(ctx context.Context, p auth.Principal, id, kitID uuid.UUID) (*Appointment, error) {
	if err := auth.Require(p, "assign kits", auth.Operators...); err != nil {
		return nil, err
	}
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			return apperr.New(apperr.KindInvalidStateTransition, "cannot assign a kit to a %s appointment", a.Status)
		}
		if a.KitID != nil {
			return apperr.New(apperr.KindConflict, "appointment %s already has kit %s", id, a.KitID)
		}
		if _, err := s.kits.Assign(lockCtx, p, kitID, a.CustomerID); err != nil {
			return err
		}
		updated, err = s.repo.SetKit(lockCtx, id, kitID)
		if err != nil {
			return fmt.Errorf("set appointment kit: %w", err)
		}
		s.logEvent(lockCtx, id, EventKitAssigned, map[string]any{"kit_id": kitID.String()})
		return nil
	})
	return updated, err
}

type SampleInput struct {
	SampleType string `json:"sample_type" validate:"required"`
	DonorName  string `json:"donor_name"`
}

// RecordSampleCollection moves confirmed -> sample_collected and registers
// the collected samples. Staff-collected samples are received immediately;
// self-collected ones stay pending until the lab receives them.
func (s *Service) RecordSampleCollection(ctx context.Context, p auth.Principal, id uuid.UUID, inputs []SampleInput) (*Appointment, []sample.Sample, error) {
	if len(inputs) == 0 {
		return nil, nil, apperr.New(apperr.KindInvalidInput, "at least one sample is required")
	}
	var updated *Appointment
	var created []sample.Sample
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if err := auth.RequireOwnerOr(p, a.CustomerID, "record sample collection", auth.Operators...); err != nil {
			return err
		}
		if err := CheckTransition(a.Status, StatusSampleCollected); err != nil {
			return err
		}

		status := sample.StatusReceived
		if p.Role == auth.RoleCustomer {
			status = sample.StatusPending
		}
		collectedAt := s.now()
		for _, in := range inputs {
			if in.SampleType == "" {
				return apperr.New(apperr.KindInvalidInput, "sample_type is required")
			}
			smp, err := s.samples.Create(lockCtx, &sample.Sample{
				ID:            uuid.New(),
				AppointmentID: id,
				KitID:         a.KitID,
				SampleType:    in.SampleType,
				DonorName:     in.DonorName,
				Status:        status,
				CollectedAt:   &collectedAt,
			})
			if err != nil {
				return fmt.Errorf("create sample: %w", err)
			}
			created = append(created, *smp)
		}

		updated, err = s.transition(lockCtx, a, Transition{From: a.Status, To: StatusSampleCollected})
		if err != nil {
			return err
		}
		if a.KitID != nil {
			if _, err := s.kits.MarkUsed(lockCtx, auth.System, *a.KitID); err != nil {
				s.logger.Warn().Err(err).Str("kit_id", a.KitID.String()).Msg("failed to mark kit used")
			}
		}
		s.logEvent(lockCtx, id, EventSampleCollected, map[string]any{"samples": len(created)})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, created, nil
}

// StartTesting moves sample_collected -> testing and puts the given samples
// (or every waiting sample when none are named) into testing.
func (s *Service) StartTesting(ctx context.Context, p auth.Principal, id uuid.UUID, sampleIDs []uuid.UUID) (*Appointment, error) {
	if err := auth.Require(p, "start testing", auth.Lab...); err != nil {
		return nil, err
	}
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(a.Status, StatusTesting); err != nil {
			return err
		}

		samples, err := s.samples.ListByAppointment(lockCtx, id)
		if err != nil {
			return fmt.Errorf("list samples: %w", err)
		}
		wanted := make(map[uuid.UUID]bool, len(sampleIDs))
		for _, sid := range sampleIDs {
			wanted[sid] = true
		}

		started := 0
		for _, smp := range samples {
			if len(wanted) > 0 && !wanted[smp.ID] {
				continue
			}
			if !smp.Status.CanTransitionTo(sample.StatusTesting) {
				if len(wanted) > 0 {
					return sample.CheckTransition(smp.Status, sample.StatusTesting)
				}
				continue
			}
			if _, err := s.samples.UpdateStatus(lockCtx, smp.ID, smp.Status, sample.StatusTesting, nil); err != nil {
				return fmt.Errorf("start testing sample %s: %w", smp.ID, err)
			}
			started++
		}
		if started == 0 {
			return apperr.New(apperr.KindInvalidStateTransition, "no sample of appointment %s can enter testing", id)
		}

		updated, err = s.transition(lockCtx, a, Transition{From: a.Status, To: StatusTesting})
		if err != nil {
			return err
		}
		s.logEvent(lockCtx, id, EventTestingStarted, map[string]any{"samples": started})
		return nil
	})
	return updated, err
}

// RecordResult closes the testing leg of one sample, either with a result
// reference or as invalid.
func (s *Service) RecordResult(ctx context.Context, p auth.Principal, sampleID uuid.UUID, resultRef string, invalid bool) (*sample.Sample, error) {
	if err := auth.Require(p, "record results", auth.Lab...); err != nil {
		return nil, err
	}
	smp, err := s.samples.GetByID(ctx, sampleID)
	if errors.Is(err, sample.ErrSampleNotFound) {
		return nil, apperr.NotFound("sample", sampleID)
	}
	if err != nil {
		return nil, err
	}

	var result *sample.Sample
	err = s.withLock(ctx, smp.AppointmentID, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, smp.AppointmentID)
		if err != nil {
			return err
		}
		if a.Status != StatusTesting {
			return apperr.New(apperr.KindInvalidStateTransition, "appointment %s is %s, not testing", a.ID, a.Status)
		}

		to, ref := sample.StatusCompleted, &resultRef
		if invalid {
			to, ref = sample.StatusInvalid, nil
		} else if resultRef == "" {
			return apperr.New(apperr.KindInvalidInput, "result reference is required")
		}

		current, err := s.samples.GetByID(lockCtx, sampleID)
		if err != nil {
			return err
		}
		if err := sample.CheckTransition(current.Status, to); err != nil {
			return err
		}
		result, err = s.samples.UpdateStatus(lockCtx, sampleID, current.Status, to, ref)
		if errors.Is(err, sample.ErrStatusChanged) {
			return &apperr.TransitionError{Entity: "sample", From: string(current.Status), To: string(to)}
		}
		return err
	})
	return result, err
}

// Complete moves testing -> completed once every sample is settled and at
// least one produced a result, then requests the remaining balance.
func (s *Service) Complete(ctx context.Context, p auth.Principal, id uuid.UUID) (*Appointment, error) {
	if err := auth.Require(p, "complete appointments", auth.Lab...); err != nil {
		return nil, err
	}
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(a.Status, StatusCompleted); err != nil {
			return err
		}

		samples, err := s.samples.ListByAppointment(lockCtx, id)
		if err != nil {
			return fmt.Errorf("list samples: %w", err)
		}
		results := 0
		for _, smp := range samples {
			if !smp.Settled() {
				return apperr.New(apperr.KindInvalidStateTransition, "sample %s is still %s", smp.ID, smp.Status)
			}
			if smp.Status == sample.StatusCompleted {
				results++
			}
		}
		if results == 0 {
			return apperr.New(apperr.KindInvalidStateTransition, "appointment %s has no sample results", id)
		}

		updated, err = s.transition(lockCtx, a, Transition{From: a.Status, To: StatusCompleted})
		if err != nil {
			return err
		}
		s.logEvent(lockCtx, id, EventAppointmentCompleted, map[string]any{"results": results})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.EventResultsReady, updated)
	if !updated.FullyPaid() && s.balance != nil {
		if err := s.balance.RequestRemaining(ctx, id); err != nil && !errors.Is(err, apperr.ErrDuplicatePendingPayment) {
			s.logger.Error().Err(err).
				Str("appointment_id", id.String()).
				Int64("remaining", updated.RemainingAmount()).
				Msg("failed to request remaining balance")
		}
	}
	return updated, nil
}

// Cancel moves any non-terminal appointment to cancelled, then releases the
// slot hold and an assigned kit. Customers may cancel their own appointment
// only while it is pending.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		if !p.Is(auth.Operators...) {
			if p.Role != auth.RoleCustomer || p.ID != a.CustomerID || a.Status != StatusPending {
				return apperr.New(apperr.KindUnauthorized, "role %q may not cancel this appointment", p.Role)
			}
		}
		updated, err = s.cancel(lockCtx, a, reason)
		return err
	})
	return updated, err
}

func (s *Service) cancel(ctx context.Context, a *Appointment, reason string) (*Appointment, error) {
	if reason == "" {
		reason = "cancelled"
	}
	updated, err := s.transition(ctx, a, Transition{From: a.Status, To: StatusCancelled, ClearHold: true, CancelReason: &reason})
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, a.ID, EventAppointmentCancelled, map[string]any{"from": string(a.Status), "reason": reason})

	// The cancellation stands even if resource release fails; failures are
	// retried by ReleaseLeftovers.
	if released := s.releaseSlot(ctx, updated); released {
		updated.SlotReleased = true
	}
	s.releaseKit(ctx, updated)
	s.notify(ctx, notify.EventAppointmentCancelled, updated, reason)
	return updated, nil
}

func (s *Service) releaseSlot(ctx context.Context, a *Appointment) bool {
	if !a.HoldsSlot() {
		return false
	}
	ctx = context.WithoutCancel(ctx)

	claimed, err := s.repo.SetSlotReleased(ctx, a.ID, true)
	if err != nil || !claimed {
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to claim slot release")
		}
		return false
	}
	if err := s.slots.ReleaseCapacity(ctx, *a.SlotID, 1); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("slot_id", a.SlotID.String()).
			Msg("slot release failed, will retry")
		if _, rerr := s.repo.SetSlotReleased(ctx, a.ID, false); rerr != nil {
			s.logger.Error().Err(rerr).Str("appointment_id", a.ID.String()).Msg("failed to unclaim slot release")
		}
		s.logEvent(ctx, a.ID, EventSlotReleaseFailed, map[string]any{"slot_id": a.SlotID.String(), "error": err.Error()})
		return false
	}
	return true
}

func (s *Service) releaseKit(ctx context.Context, a *Appointment) {
	if a.KitID == nil || s.kits == nil {
		return
	}
	k, released, err := s.kits.ReleaseIfAssigned(context.WithoutCancel(ctx), *a.KitID)
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Str("kit_id", a.KitID.String()).Msg("failed to return kit")
		return
	}
	if !released {
		s.logger.Warn().
			Str("appointment_id", a.ID.String()).
			Str("kit_id", a.KitID.String()).
			Str("kit_status", string(k.Status)).
			Msg("kit not returned automatically, needs manual review")
		s.logEvent(ctx, a.ID, EventKitNeedsReview, map[string]any{"kit_id": a.KitID.String(), "kit_status": string(k.Status)})
	}
}

// ExpireHolds cancels pending appointments whose hold has lapsed and returns
// how many were expired.
func (s *Service) ExpireHolds(ctx context.Context, now time.Time, limit int) (int, error) {
	candidates, err := s.repo.FindExpiredHolds(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find expired pending appointments: %w", err)
	}
	return s.expireHolds(ctx, candidates, now, "worker"), nil
}

// ReclaimLapsed cancels the lapsed pending appointments holding the slot so a
// new booking can take their places before the sweep runs.
func (s *Service) ReclaimLapsed(ctx context.Context, slotID uuid.UUID) (int, error) {
	now := s.now()
	candidates, err := s.repo.FindExpiredHoldsOnSlot(ctx, slotID, now, reclaimBatch)
	if err != nil {
		return 0, fmt.Errorf("find expired holds on slot: %w", err)
	}
	return s.expireHolds(ctx, candidates, now, "booking"), nil
}

func (s *Service) expireHolds(ctx context.Context, candidates []Appointment, now time.Time, trigger string) int {
	expired := 0
	for _, c := range candidates {
		err := s.withLock(ctx, c.ID, func(lockCtx context.Context) error {
			a, err := s.load(lockCtx, c.ID)
			if err != nil {
				return err
			}
			if a.Status != StatusPending || a.HoldExpiresAt == nil || !a.HoldExpiresAt.Before(now) {
				return nil
			}
			if _, err := s.cancel(lockCtx, a, ReasonHoldExpired); err != nil {
				return err
			}
			expired++
			s.metrics.ObserveExpired("appointment")
			s.logEvent(lockCtx, a.ID, EventAppointmentExpired, map[string]any{"reason": trigger})
			return nil
		})
		if err != nil {
			s.logger.Error().Err(err).Str("appointment_id", c.ID.String()).Msg("failed to expire appointment")
		}
	}
	return expired
}

// ReleaseLeftovers retries slot releases that failed after a cancellation.
func (s *Service) ReleaseLeftovers(ctx context.Context, limit int) (int, error) {
	leftovers, err := s.repo.FindUnreleasedCancelled(ctx, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for i := range leftovers {
		if s.releaseSlot(ctx, &leftovers[i]) {
			released++
		}
	}
	return released, nil
}

// CancelForReservation cancels an appointment converted from a reservation
// that the customer abandoned.
func (s *Service) CancelForReservation(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var updated *Appointment
	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		a, err := s.load(lockCtx, id)
		if err != nil {
			return err
		}
		updated, err = s.cancel(lockCtx, a, reason)
		return err
	})
	return updated, err
}

func (s *Service) transition(ctx context.Context, a *Appointment, t Transition) (*Appointment, error) {
	if err := CheckTransition(t.From, t.To); err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateStatus(ctx, a.ID, t)
	if errors.Is(err, ErrStatusChanged) {
		current := t.From
		if fresh, gerr := s.repo.GetByID(ctx, a.ID); gerr == nil {
			current = fresh.Status
		}
		return nil, &apperr.TransitionError{Entity: "appointment", From: string(current), To: string(t.To)}
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.metrics.ObserveTransition(string(t.From), string(t.To))
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Msg("appointment transitioned")
	return updated, nil
}

func (s *Service) withLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, redisclient.AppointmentKey(id), fn)
}

func (s *Service) notify(ctx context.Context, typ notify.EventType, a *Appointment, reason ...string) {
	if s.notifier == nil {
		return
	}
	id := a.ID
	ev := notify.Event{Type: typ, CustomerID: a.CustomerID, AppointmentID: &id}
	if typ == notify.EventAppointmentBooked {
		ev.Amount = a.DepositAmount
	}
	if len(reason) > 0 {
		ev.Reason = reason[0]
	}
	s.notifier.Dispatch(ctx, ev)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
