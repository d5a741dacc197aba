package bootstrap

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
	"github.com/hackgods/dna-testing-scheduling/internal/catalog"
	"github.com/hackgods/dna-testing-scheduling/internal/config"
	"github.com/hackgods/dna-testing-scheduling/internal/expiry"
	"github.com/hackgods/dna-testing-scheduling/internal/gateway"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
	"github.com/hackgods/dna-testing-scheduling/internal/notify"
	"github.com/hackgods/dna-testing-scheduling/internal/payment"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
	"github.com/hackgods/dna-testing-scheduling/internal/reservation"
	"github.com/hackgods/dna-testing-scheduling/internal/sample"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

// Services is the booking core wired against Postgres and Redis.
type Services struct {
	Slots        *slot.Allocator
	Kits         *kit.Manager
	Appointments *appointment.Service
	Reservations *reservation.Service
	Payments     *payment.Coordinator
	Dispatcher   *notify.Dispatcher
	Metrics      *metrics.Metrics
}

// BuildServices wires every component. reg may be nil to skip metrics.
func BuildServices(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, reg prometheus.Registerer, logger zerolog.Logger) *Services {
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	dispatcher := notify.NewDispatcher(BuildNotifier(cfg, pool, logger), 10*time.Second, m, logger)
	cat := catalog.NewPgCatalog(pool)

	slots := slot.NewAllocator(slot.NewPgRepository(pool), locker, m, logger)
	kits := kit.NewManager(kit.NewPgRepository(pool), logger)

	appts := appointment.NewService(appointment.NewPgRepository(pool), appointment.Deps{
		Slots:    slots,
		Kits:     kits,
		Samples:  sample.NewPgRepository(pool),
		Catalog:  cat,
		Locker:   locker,
		Notifier: dispatcher,
		Metrics:  m,
	}, cfg.AppointmentTTL, logger)

	var gw payment.Gateway
	if cfg.Gateway.ClientID != "" && cfg.Gateway.APIKey != "" {
		gw = gateway.NewClient(cfg.Gateway, m, logger)
	} else {
		logger.Warn().Msg("payment gateway not configured, online payments get no checkout link")
	}
	payments := payment.NewCoordinator(payment.NewPgRepository(pool), appts, gw, locker, dispatcher, m, logger)
	appts.SetBalanceRequester(payments)

	reservations := reservation.NewService(reservation.NewPgRepository(pool), reservation.Deps{
		Slots:        slots,
		Appointments: appts,
		Catalog:      cat,
		Locker:       locker,
		Notifier:     dispatcher,
		Metrics:      m,
	}, expiry.NewPolicy(cfg.ReservationTTL), logger)
	slots.SetReclaimers(reservations, appts)
	payments.SetReservationPayments(reservations)

	return &Services{
		Slots:        slots,
		Kits:         kits,
		Appointments: appts,
		Reservations: reservations,
		Payments:     payments,
		Dispatcher:   dispatcher,
		Metrics:      m,
	}
}

// BuildNotifier uses SendGrid when an API key is set and logs events otherwise.
func BuildNotifier(cfg config.Config, pool *pgxpool.Pool, logger zerolog.Logger) notify.Notifier {
	sg := notify.NewSendGridNotifier(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, notify.NewPgDirectory(pool), logger)
	if sg == nil {
		return notify.NewLogNotifier(logger)
	}
	return sg
}

// BuildSweeper wires the expiry sweep over the given services.
func BuildSweeper(cfg config.Config, s *Services, logger zerolog.Logger) *expiry.Sweeper {
	return expiry.NewSweeper(s.Reservations, s.Appointments, s.Payments, expiry.SweeperConfig{
		PaymentGrace: cfg.PaymentGrace,
	}, logger)
}
