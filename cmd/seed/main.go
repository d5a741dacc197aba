package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/api"
	"github.com/hackgods/dna-testing-scheduling/internal/app/bootstrap"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/catalog"
	"github.com/hackgods/dna-testing-scheduling/internal/config"
	"github.com/hackgods/dna-testing-scheduling/internal/db"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
	"github.com/hackgods/dna-testing-scheduling/internal/logging"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

const (
	customerCount = 500
	staffCount    = 20
	kitCount      = 100
	slotDays      = 14
)

var services = []struct {
	name           string
	price          int64
	collectionType string
}{
	{"Paternity test", 5_000_000, "facility"},
	{"Maternity test", 4_500_000, "facility"},
	{"Sibling test", 6_000_000, "facility"},
	{"Ancestry test", 3_000_000, "home"},
	{"Legal paternity test", 8_000_000, "facility"},
	{"Prenatal paternity test", 15_000_000, "facility"},
}

var sampleSlots = [][2]string{{"08:00", "09:00"}, {"09:00", "10:00"}, {"10:30", "11:30"}, {"13:30", "14:30"}, {"15:00", "16:00"}}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()
	if err := db.ApplySchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	serviceIDs, err := seedServices(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed services")
	}
	staffIDs, err := seedUsers(ctx, pool, faker, auth.RoleStaff, staffCount)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed staff")
	}
	if _, err := seedUsers(ctx, pool, faker, auth.RoleCustomer, customerCount); err != nil {
		logger.Fatal().Err(err).Msg("seed customers")
	}

	svcs := bootstrap.BuildServices(cfg, pool, rdb, nil, zerolog.Nop())
	slots, err := seedSlots(ctx, svcs.Slots, faker, staffIDs, serviceIDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed slots")
	}
	for i := 0; i < kitCount; i++ {
		kitType := kit.TypeRegular
		if faker.Number(1, 10) == 1 {
			kitType = kit.TypeAdministrative
		}
		if _, err := svcs.Kits.Create(ctx, auth.System, kitType, nil); err != nil {
			logger.Fatal().Err(err).Msg("seed kits")
		}
	}

	token, err := api.IssueToken(cfg.JWTSecret, auth.Principal{ID: staffIDs[0], Role: auth.RoleStaff}, 24*time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}
	logger.Info().
		Int("services", len(serviceIDs)).
		Int("slots", slots).
		Int("kits", kitCount).
		Msg("seed complete")
	fmt.Printf("staff token (24h): %s\n", token)
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	batch := &pgx.Batch{}
	ids := make([]uuid.UUID, len(services))
	for i, s := range services {
		ids[i] = uuid.New()
		batch.Queue(`
			INSERT INTO services (id, name, price, deposit_amount, collection_type)
			VALUES ($1, $2, $3, $4, $5)
		`, ids[i], s.name, s.price, catalog.DefaultDeposit(s.price), s.collectionType)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, err
	}
	return ids, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, role auth.Role, count int) ([]uuid.UUID, error) {
	rows := make([][]any, count)
	ids := make([]uuid.UUID, count)
	for i := range rows {
		ids[i] = uuid.New()
		rows[i] = []any{ids[i], faker.Name(), faker.Email(), faker.Phone(), string(role)}
	}
	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"users"},
		[]string{"id", "full_name", "email", "phone", "role"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// seedSlots creates one slot per staff member per sample window over the next
// slotDays days.
func seedSlots(ctx context.Context, alloc *slot.Allocator, faker *gofakeit.Faker, staffIDs, serviceIDs []uuid.UUID) (int, error) {
	created := 0
	start := time.Now().UTC().AddDate(0, 0, 1)
	for d := 0; d < slotDays; d++ {
		day := start.AddDate(0, 0, d)
		for _, staffID := range staffIDs {
			window := sampleSlots[faker.Number(0, len(sampleSlots)-1)]
			_, err := alloc.CreateSlot(ctx, auth.System, slot.CreateInput{
				StaffIDs:  []uuid.UUID{staffID},
				ServiceID: serviceIDs[faker.Number(0, len(serviceIDs)-1)],
				Windows: []slot.TimeWindow{{
					Year: day.Year(), Month: int(day.Month()), Day: day.Day(),
					StartTime: window[0], EndTime: window[1],
				}},
				AppointmentLimit: faker.Number(1, 5),
			})
			if err != nil {
				return created, fmt.Errorf("create slot for %s on %s: %w", staffID, day.Format(time.DateOnly), err)
			}
			created++
		}
	}
	return created, nil
}
