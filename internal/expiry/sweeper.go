package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReservationExpirer expires lapsed reservations.
type ReservationExpirer interface {
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
	ReleaseLeftovers(ctx context.Context, limit int) (int, error)
}

// HoldExpirer cancels pending appointments whose hold lapsed.
type HoldExpirer interface {
	ExpireHolds(ctx context.Context, now time.Time, limit int) (int, error)
	ReleaseLeftovers(ctx context.Context, limit int) (int, error)
}

// Reconciler re-verifies payments left pending with the gateway.
type Reconciler interface {
	Reconcile(ctx context.Context, grace time.Duration, limit int) (int, error)
}

type SweeperConfig struct {
	BatchSize    int
	RunTimeout   time.Duration
	PaymentGrace time.Duration
}

type Sweeper struct {
	reservations ReservationExpirer
	appointments HoldExpirer
	payments     Reconciler
	cfg          SweeperConfig
	logger       zerolog.Logger
	now          func() time.Time
}

// Report counts what one sweep changed.
type Report struct {
	Reservations     int
	Appointments     int
	ReleasedLeftover int
	Reconciled       int
}

// NewSweeper accepts nil collaborators; their step is skipped.
func NewSweeper(r ReservationExpirer, a HoldExpirer, p Reconciler, cfg SweeperConfig, logger zerolog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	if cfg.PaymentGrace <= 0 {
		cfg.PaymentGrace = 15 * time.Minute
	}
	return &Sweeper{
		reservations: r,
		appointments: a,
		payments:     p,
		cfg:          cfg,
		logger:       logger.With().Str("component", "expiry_sweeper").Logger(),
		now:          time.Now,
	}
}

// RunOnce performs one sweep. A failing step is logged and the remaining
// steps still run; the first error is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	start := s.now()
	var rep Report
	var firstErr error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		s.logger.Error().Err(err).Str("step", step).Msg("sweep step failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	if s.reservations != nil {
		n, err := s.reservations.ExpireDue(ctx, start, s.cfg.BatchSize)
		rep.Reservations = n
		record("expire reservations", err)

		n, err = s.reservations.ReleaseLeftovers(ctx, s.cfg.BatchSize)
		rep.ReleasedLeftover += n
		record("release reservation holds", err)
	}
	if s.appointments != nil {
		n, err := s.appointments.ExpireHolds(ctx, start, s.cfg.BatchSize)
		rep.Appointments = n
		record("expire appointment holds", err)

		n, err = s.appointments.ReleaseLeftovers(ctx, s.cfg.BatchSize)
		rep.ReleasedLeftover += n
		record("release appointment slots", err)
	}
	if s.payments != nil {
		n, err := s.payments.Reconcile(ctx, s.cfg.PaymentGrace, s.cfg.BatchSize)
		rep.Reconciled = n
		record("reconcile payments", err)
	}

	s.logger.Info().
		Int("reservations_expired", rep.Reservations).
		Int("appointments_expired", rep.Appointments).
		Int("leftovers_released", rep.ReleasedLeftover).
		Int("payments_reconciled", rep.Reconciled).
		Dur("took", s.now().Sub(start)).
		Msg("expiry sweep finished")
	return rep, firstErr
}

// Start runs a sweep immediately and then on schedule until ctx is done.
// Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(schedule, func() { _, _ = s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	_, _ = s.RunOnce(ctx)
	c.Start()
	s.logger.Info().Str("schedule", schedule).Msg("expiry sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info().Msg("expiry sweeper stopped")
	return nil
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
