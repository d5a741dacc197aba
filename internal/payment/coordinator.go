package payment

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
	"github.com/hackgods/dna-testing-scheduling/internal/gateway"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
	"github.com/hackgods/dna-testing-scheduling/internal/notify"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
)

type Appointments interface {
	Lookup(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ConfirmDeposit(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (gateway.Checkout, error)
	Verify(ctx context.Context, orderCode int64) (gateway.Verification, error)
}

type Notifications interface {
	Dispatch(ctx context.Context, ev notify.Event)
}

// ReservationPayments mirrors payment progress onto the reservation an
// appointment was converted from.
type ReservationPayments interface {
	RecordPayment(ctx context.Context, a *appointment.Appointment) error
}

// Coordinator decides the stage of each payment request and folds completed
// payments back into appointment state.
type Coordinator struct {
	store        Store
	appointments Appointments
	gateway      Gateway
	locker       redisclient.Locker
	notifier     Notifications
	reservations ReservationPayments
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

func NewCoordinator(store Store, appts Appointments, gw Gateway, locker redisclient.Locker, n Notifications, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:        store,
		appointments: appts,
		gateway:      gw,
		locker:       locker,
		notifier:     n,
		metrics:      m,
		logger:       logger.With().Str("component", "payment_coordinator").Logger(),
		now:          time.Now,
	}
}

// SetReservationPayments wires the reservation side after both services exist.
func (c *Coordinator) SetReservationPayments(r ReservationPayments) {
	c.reservations = r
}

// RequestPayment creates the next pending payment for the appointment. Online
// payments also get a gateway checkout link.
func (c *Coordinator) RequestPayment(ctx context.Context, p auth.Principal, appointmentID uuid.UUID, method Method) (*Payment, error) {
	if !method.Valid() {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown payment method %q", method)
	}
	a, err := c.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwnerOr(p, a.CustomerID, "request payment", auth.Operators...); err != nil {
		return nil, err
	}

	var created *Payment
	err = c.withLock(ctx, appointmentID, func(lockCtx context.Context) error {
		a, err := c.appointments.Lookup(lockCtx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status == appointment.StatusCancelled {
			return apperr.New(apperr.KindInvalidStateTransition, "appointment %s is cancelled", appointmentID)
		}

		stage, amount, err := DetermineStage(*a)
		if err != nil {
			return err
		}
		if existing, err := c.store.FindPending(lockCtx, appointmentID, stage); err == nil {
			return c.duplicate(a, existing)
		} else if !errors.Is(err, ErrPaymentNotFound) {
			return err
		}

		created, err = c.store.CreatePending(lockCtx, &Payment{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			Amount:        amount,
			Method:        method,
			Stage:         stage,
		})
		if errors.Is(err, ErrDuplicatePending) {
			existing, _ := c.store.FindPending(lockCtx, appointmentID, stage)
			return c.duplicate(a, existing)
		}
		if err != nil {
			return err
		}

		if method == MethodOnline && c.gateway != nil {
			created, err = c.attachCheckout(lockCtx, created)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("payment_id", created.ID.String()).
		Int64("payment_no", created.PaymentNo).
		Str("stage", string(created.Stage)).
		Int64("amount", created.Amount).
		Msg("payment requested")

	if created.Stage == StageRemaining {
		ev := notify.Event{Type: notify.EventBalanceDue, CustomerID: a.CustomerID, AppointmentID: &a.ID, Amount: created.Amount}
		if created.CheckoutURL != nil {
			ev.CheckoutURL = *created.CheckoutURL
		}
		c.dispatch(ctx, ev)
	}
	return created, nil
}

func (c *Coordinator) duplicate(a *appointment.Appointment, existing *Payment) error {
	ev := c.logger.Warn().Str("appointment_id", a.ID.String())
	if existing != nil {
		ev = ev.Str("payment_id", existing.ID.String()).
			Int64("payment_no", existing.PaymentNo).
			Str("stage", string(existing.Stage)).
			Int64("amount", existing.Amount)
	}
	ev.Msg("duplicate pending payment rejected")

	if existing == nil {
		return apperr.ErrDuplicatePendingPayment
	}
	return apperr.Wrap(apperr.KindDuplicatePendingPayment, apperr.ErrDuplicatePendingPayment,
		"appointment %s already has pending %s payment %d for %d", a.ID, existing.Stage, existing.PaymentNo, existing.Amount)
}

func (c *Coordinator) attachCheckout(ctx context.Context, p *Payment) (*Payment, error) {
	checkout, err := c.gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		OrderCode:   p.PaymentNo,
		Amount:      p.Amount,
		Description: fmt.Sprintf("DNA %s %d", p.Stage, p.PaymentNo),
	})
	if err != nil {
		// A pending payment without a link would block the stage forever.
		if _, cerr := c.store.Close(context.WithoutCancel(ctx), p.ID, StatusFailed, "checkout_failed"); cerr != nil {
			c.logger.Error().Err(cerr).Str("payment_id", p.ID.String()).Msg("failed to close payment after checkout error")
		}
		return nil, apperr.Wrap(apperr.KindInternal, err, "create checkout for payment %d", p.PaymentNo)
	}
	return c.store.SetCheckout(ctx, p.ID, checkout.CheckoutURL)
}

// RequestRemaining issues the remaining-balance payment on the gateway.
func (c *Coordinator) RequestRemaining(ctx context.Context, appointmentID uuid.UUID) error {
	a, err := c.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return err
	}
	stage, _, err := DetermineStage(*a)
	if err != nil {
		return err
	}
	if stage != StageRemaining {
		return apperr.New(apperr.KindInvalidInput, "appointment %s still owes its deposit", appointmentID)
	}
	_, err = c.RequestPayment(ctx, auth.System, appointmentID, MethodOnline)
	return err
}

// HandleNotification applies a verified gateway notification. Completing is
// idempotent per transaction id: a replay returns the payment unchanged.
func (c *Coordinator) HandleNotification(ctx context.Context, n Notification) (*Payment, error) {
	p, err := c.store.GetByNo(ctx, n.PaymentNo)
	if errors.Is(err, ErrPaymentNotFound) {
		c.metrics.ObserveNotification("unknown_payment")
		return nil, apperr.NotFound("payment", n.PaymentNo)
	}
	if err != nil {
		return nil, err
	}

	switch n.Status {
	case StatusCompleted:
		return c.complete(ctx, p, n)
	case StatusFailed, StatusCancelled:
		return c.close(ctx, p, n.Status, n.GatewayStatus)
	default:
		return nil, apperr.New(apperr.KindInvalidInput, "unsupported notification status %q", n.Status)
	}
}

func (c *Coordinator) complete(ctx context.Context, p *Payment, n Notification) (*Payment, error) {
	if n.GatewayTransactionID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "gateway transaction id is required")
	}
	if p.Status != StatusPending {
		return c.settled(p, n)
	}
	if n.Amount != p.Amount {
		c.metrics.ObserveNotification("amount_mismatch")
		c.logger.Error().
			Str("appointment_id", p.AppointmentID.String()).
			Str("payment_id", p.ID.String()).
			Int64("payment_no", p.PaymentNo).
			Int64("expected_amount", p.Amount).
			Int64("actual_amount", n.Amount).
			Str("gateway_transaction_id", n.GatewayTransactionID).
			Msg("payment amount mismatch, left pending for manual review")
		return nil, &apperr.AmountMismatchError{PaymentNo: p.PaymentNo, Expected: p.Amount, Actual: n.Amount}
	}

	done, err := c.store.Complete(ctx, p.ID, n.GatewayTransactionID, n.GatewayStatus)
	switch {
	case errors.Is(err, ErrStatusChanged):
		current, gerr := c.store.GetByID(ctx, p.ID)
		if gerr != nil {
			return nil, gerr
		}
		return c.settled(current, n)
	case errors.Is(err, ErrTransactionReused):
		c.metrics.ObserveNotification("rejected")
		return nil, apperr.Wrap(apperr.KindConflict, err, "transaction %s", n.GatewayTransactionID)
	case errors.Is(err, appointment.ErrAmountOutOfRange):
		c.metrics.ObserveNotification("rejected")
		c.logger.Error().
			Str("appointment_id", p.AppointmentID.String()).
			Str("payment_id", p.ID.String()).
			Int64("amount", p.Amount).
			Msg("payment would overpay appointment, left pending for manual review")
		return nil, apperr.Wrap(apperr.KindAlreadyFullyPaid, apperr.ErrAlreadyFullyPaid, "payment %d", p.PaymentNo)
	case err != nil:
		return nil, err
	}
	if !done.Applied {
		c.metrics.ObserveNotification("replay")
		return done.Payment, nil
	}
	c.metrics.ObserveNotification("applied")

	a := done.Appointment
	c.recordReservationPayment(ctx, a)
	c.logger.Info().
		Str("appointment_id", a.ID.String()).
		Int64("payment_no", p.PaymentNo).
		Str("stage", string(p.Stage)).
		Int64("amount_paid", a.AmountPaid).
		Int64("total_amount", a.TotalAmount).
		Msg("payment completed")

	switch p.Stage {
	case StageDeposit:
		c.dispatch(ctx, notify.Event{Type: notify.EventDepositReceived, CustomerID: a.CustomerID, AppointmentID: &a.ID, Amount: p.Amount})
		if _, err := c.appointments.ConfirmDeposit(ctx, a.ID); err != nil {
			c.logger.Error().Err(err).
				Str("appointment_id", a.ID.String()).
				Str("payment_id", p.ID.String()).
				Msg("deposit completed but appointment could not be confirmed, needs manual review")
		}
	case StageRemaining:
		if a.FullyPaid() {
			c.dispatch(ctx, notify.Event{Type: notify.EventPaymentSettled, CustomerID: a.CustomerID, AppointmentID: &a.ID, Amount: a.AmountPaid})
		}
	}
	return done.Payment, nil
}

// settled answers a completion for a payment that already left pending. A
// payment already completed for the same amount is acknowledged even under a
// different transaction id, since reconciliation may have settled it first.
func (c *Coordinator) settled(p *Payment, n Notification) (*Payment, error) {
	if p.Status == StatusCompleted {
		if p.GatewayTransactionID != nil && *p.GatewayTransactionID == n.GatewayTransactionID {
			c.metrics.ObserveNotification("replay")
			return p, nil
		}
		if n.Amount == p.Amount {
			c.metrics.ObserveNotification("replay")
			c.logger.Info().
				Str("payment_id", p.ID.String()).
				Int64("payment_no", p.PaymentNo).
				Str("gateway_transaction_id", n.GatewayTransactionID).
				Msg("payment already completed, notification acknowledged")
			return p, nil
		}
	}
	c.metrics.ObserveNotification("rejected")
	return nil, CheckTransition(p.Status, StatusCompleted)
}

func (c *Coordinator) recordReservationPayment(ctx context.Context, a *appointment.Appointment) {
	if c.reservations == nil || a == nil {
		return
	}
	if err := c.reservations.RecordPayment(ctx, a); err != nil {
		c.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to update reservation payment status")
	}
}

func (c *Coordinator) close(ctx context.Context, p *Payment, to Status, gatewayStatus string) (*Payment, error) {
	if err := CheckTransition(p.Status, to); err != nil {
		if p.Status == to {
			c.metrics.ObserveNotification("replay")
			return p, nil
		}
		return nil, err
	}
	closed, err := c.store.Close(ctx, p.ID, to, gatewayStatus)
	if errors.Is(err, ErrStatusChanged) {
		current, gerr := c.store.GetByID(ctx, p.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, CheckTransition(current.Status, to)
	}
	if err != nil {
		return nil, err
	}
	c.metrics.ObserveNotification(string(to))
	c.logger.Info().
		Str("appointment_id", p.AppointmentID.String()).
		Int64("payment_no", p.PaymentNo).
		Str("status", string(to)).
		Msg("payment closed without completion")
	return closed, nil
}

// ConfirmCash records a cash payment taken by staff.
func (c *Coordinator) ConfirmCash(ctx context.Context, p auth.Principal, paymentID uuid.UUID) (*Payment, error) {
	if err := auth.Require(p, "confirm cash payments", auth.Operators...); err != nil {
		return nil, err
	}
	pay, err := c.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pay.Method != MethodCash {
		return nil, apperr.New(apperr.KindInvalidInput, "payment %d is not a cash payment", pay.PaymentNo)
	}
	return c.complete(ctx, pay, Notification{
		PaymentNo:            pay.PaymentNo,
		Amount:               pay.Amount,
		Status:               StatusCompleted,
		GatewayTransactionID: "cash-" + pay.ID.String(),
		GatewayStatus:        "cash_received_by_" + p.ID.String(),
	})
}

// MarkFailed lets staff cancel a pending payment so a new one can be issued.
func (c *Coordinator) MarkFailed(ctx context.Context, p auth.Principal, paymentID uuid.UUID) (*Payment, error) {
	if err := auth.Require(p, "cancel payments", auth.Operators...); err != nil {
		return nil, err
	}
	pay, err := c.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return c.close(ctx, pay, StatusCancelled, "cancelled_by_staff")
}

// Refund reverses a completed payment and lowers amount_paid by its amount.
func (c *Coordinator) Refund(ctx context.Context, p auth.Principal, paymentID uuid.UUID) (*Payment, error) {
	if err := auth.Require(p, "refund payments", auth.RoleManager, auth.RoleAdmin, auth.RoleStaff); err != nil {
		return nil, err
	}
	pay, err := c.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := CheckTransition(pay.Status, StatusRefunded); err != nil {
		return nil, err
	}

	done, err := c.store.Refund(ctx, paymentID)
	if errors.Is(err, ErrStatusChanged) {
		current, gerr := c.store.GetByID(ctx, paymentID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, CheckTransition(current.Status, StatusRefunded)
	}
	if err != nil {
		return nil, err
	}
	c.recordReservationPayment(ctx, done.Appointment)
	c.logger.Info().
		Str("appointment_id", pay.AppointmentID.String()).
		Str("payment_id", paymentID.String()).
		Int64("amount", pay.Amount).
		Int64("amount_paid", done.Appointment.AmountPaid).
		Str("by", p.ID.String()).
		Msg("payment refunded")
	return done.Payment, nil
}

func (c *Coordinator) Get(ctx context.Context, p auth.Principal, paymentID uuid.UUID) (*Payment, error) {
	pay, err := c.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	a, err := c.appointments.Lookup(ctx, pay.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwnerOr(p, a.CustomerID, "view payment", auth.Operators...); err != nil {
		return nil, err
	}
	return pay, nil
}

func (c *Coordinator) ListByAppointment(ctx context.Context, p auth.Principal, appointmentID uuid.UUID) ([]Payment, error) {
	a, err := c.appointments.Lookup(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwnerOr(p, a.CustomerID, "view payments", auth.Operators...); err != nil {
		return nil, err
	}
	return c.store.ListByAppointment(ctx, appointmentID)
}

// Reconcile re-verifies online payments still pending after grace and
// applies the gateway's answer. Verification failures leave the payment
// pending for the next run.
func (c *Coordinator) Reconcile(ctx context.Context, grace time.Duration, limit int) (int, error) {
	if c.gateway == nil {
		return 0, nil
	}
	stale, err := c.store.FindStalePending(ctx, MethodOnline, c.now().Add(-grace), limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, p := range stale {
		v, err := c.gateway.Verify(ctx, p.PaymentNo)
		if err != nil {
			c.logger.Warn().Err(err).Int64("payment_no", p.PaymentNo).Msg("gateway verify failed, payment stays pending")
			continue
		}

		n := Notification{PaymentNo: p.PaymentNo, Amount: v.AmountPaid, GatewayStatus: v.Status, GatewayTransactionID: v.TransactionID}
		switch v.Status {
		case gateway.StatusPaid:
			n.Status = StatusCompleted
			if n.GatewayTransactionID == "" {
				n.GatewayTransactionID = fmt.Sprintf("verify-%d", p.PaymentNo)
			}
		case gateway.StatusCancelled, gateway.StatusExpired:
			n.Status = StatusFailed
		default:
			continue
		}
		if _, err := c.HandleNotification(ctx, n); err != nil {
			c.logger.Error().Err(err).Int64("payment_no", p.PaymentNo).Msg("failed to apply reconciled payment")
			continue
		}
		settled++
	}
	return settled, nil
}

func (c *Coordinator) get(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := c.store.GetByID(ctx, id)
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, apperr.NotFound("payment", id)
	}
	return p, err
}

func (c *Coordinator) withLock(ctx context.Context, appointmentID uuid.UUID, fn func(ctx context.Context) error) error {
	if c.locker == nil {
		return fn(ctx)
	}
	return c.locker.WithLock(ctx, redisclient.PaymentKey(appointmentID), fn)
}

func (c *Coordinator) dispatch(ctx context.Context, ev notify.Event) {
	if c.notifier != nil {
		c.notifier.Dispatch(ctx, ev)
	}
}
