// Package notify delivers customer notifications for booking events.
// Delivery is fire-and-forget: a failed notification never affects the state
// change that triggered it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
)

type EventType string

const (
	EventAppointmentBooked    EventType = "appointment_booked"
	EventDepositReceived      EventType = "deposit_received"
	EventAppointmentConfirmed EventType = "appointment_confirmed"
	EventBalanceDue           EventType = "balance_due"
	EventPaymentSettled       EventType = "payment_settled"
	EventResultsReady         EventType = "results_ready"
	EventAppointmentCancelled EventType = "appointment_cancelled"
	EventReservationExpired   EventType = "reservation_expired"
)

type Event struct {
	Type          EventType
	CustomerID    uuid.UUID
	AppointmentID *uuid.UUID
	ReservationID *uuid.UUID
	Amount        int64
	CheckoutURL   string
	Reason        string
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier only logs events. Used when no mail provider is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info().
		Str("event", string(ev.Type)).
		Str("customer_id", ev.CustomerID.String()).
		Int64("amount", ev.Amount).
		Msg("notification (log only)")
	return nil
}

// Dispatcher sends events asynchronously with a per-send timeout.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		notifier: n,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.With().Str("component", "notify_dispatcher").Logger(),
	}
}

// Dispatch returns immediately. A nil Dispatcher drops the event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if d == nil || d.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.notifier.Notify(sendCtx, ev); err != nil {
			d.metrics.ObserveMessage("failed")
			d.logger.Warn().Err(err).
				Str("event", string(ev.Type)).
				Str("customer_id", ev.CustomerID.String()).
				Msg("notification failed")
			return
		}
		d.metrics.ObserveMessage("sent")
	}()
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
