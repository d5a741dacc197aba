package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/dna-testing-scheduling/internal/api"
	"github.com/hackgods/dna-testing-scheduling/internal/auth"
	"github.com/hackgods/dna-testing-scheduling/internal/config"
	"github.com/hackgods/dna-testing-scheduling/internal/db"
	"github.com/hackgods/dna-testing-scheduling/internal/logging"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

// SimConfig drives rounds of concurrent reservations against one slot each.
type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Clients     int
	Capacity    int
	Concurrency int
	JWTSecret   string
	PostgresDSN string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// RoundResult compares accepted reservations with the slot's capacity.
type RoundResult struct {
	SlotID      uuid.UUID
	Capacity    int
	Accepted    int
	Rejected    int
	Failed      int
	BookedCount int
}

func (r RoundResult) Violation() error {
	want := min2(r.Capacity, r.Accepted+r.Rejected+r.Failed)
	switch {
	case r.Accepted > r.Capacity:
		return fmt.Errorf("slot %s overbooked: %d accepted, capacity %d", r.SlotID, r.Accepted, r.Capacity)
	case r.BookedCount != r.Accepted:
		return fmt.Errorf("slot %s booked_count %d, but %d reservations accepted", r.SlotID, r.BookedCount, r.Accepted)
	case r.Failed == 0 && r.Accepted != want:
		return fmt.Errorf("slot %s under-filled: %d accepted, expected %d", r.SlotID, r.Accepted, want)
	}
	return nil
}

type Simulator struct {
	config    SimConfig
	client    *http.Client
	serviceID uuid.UUID
	admin     string
	metrics   OperationMetrics
	logger    zerolog.Logger
}

func main() {
	cfg, err := loadConfig()
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("APP_ENV", "dev")).With().Str("service", "simulate").Logger()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Int("rounds", cfg.Rounds).
		Int("clients", cfg.Clients).
		Int("capacity", cfg.Capacity).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	var serviceID uuid.UUID
	err = pool.QueryRow(context.Background(), `SELECT id FROM services ORDER BY created_at LIMIT 1`).Scan(&serviceID)
	pool.Close()
	if err != nil {
		logger.Fatal().Err(err).Msg("no service found, run seed first")
	}

	admin, err := api.IssueToken(cfg.JWTSecret, auth.Principal{ID: uuid.New(), Role: auth.RoleAdmin}, time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue admin token")
	}

	sim := &Simulator{
		config:    cfg,
		client:    &http.Client{Timeout: 10 * time.Second},
		serviceID: serviceID,
		admin:     admin,
		logger:    logger,
	}

	results := make([]RoundResult, 0, cfg.Rounds)
	for round := 0; round < cfg.Rounds; round++ {
		res, err := sim.RunRound(context.Background(), round)
		if err != nil {
			logger.Fatal().Err(err).Int("round", round).Msg("round failed")
		}
		results = append(results, res)
	}

	if violations := sim.PrintReport(results); violations > 0 {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}
	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Rounds:      getInt("SIM_ROUNDS", 5),
		Clients:     getInt("SIM_CLIENTS", 50),
		Capacity:    getInt("SIM_CAPACITY", 3),
		Concurrency: getInt("SIM_CONCURRENCY", 50),
		JWTSecret:   base.JWTSecret,
		PostgresDSN: base.PostgresDSN,
	}
	if cfg.Rounds <= 0 || cfg.Clients <= 0 || cfg.Capacity <= 0 || cfg.Concurrency <= 0 {
		return SimConfig{}, errors.New("SIM_ROUNDS, SIM_CLIENTS, SIM_CAPACITY and SIM_CONCURRENCY must be positive")
	}
	return cfg, nil
}

// RunRound opens a fresh slot and has every client try to reserve it at once.
func (s *Simulator) RunRound(ctx context.Context, round int) (RoundResult, error) {
	day := time.Now().UTC().AddDate(0, 1, round)
	var created api.SlotResponse
	status, err := s.call(ctx, s.admin, http.MethodPost, "/api/v1/slots", api.CreateSlotRequest{
		StaffIDs:  []string{uuid.NewString()},
		ServiceID: s.serviceID.String(),
		Windows: []slot.TimeWindow{{
			Year: day.Year(), Month: int(day.Month()), Day: day.Day(),
			StartTime: "09:00", EndTime: "10:00",
		}},
		AppointmentLimit: s.config.Capacity,
	}, &created)
	if err != nil {
		return RoundResult{}, err
	}
	if status != http.StatusCreated {
		return RoundResult{}, fmt.Errorf("create slot: status %d", status)
	}

	var accepted, rejected, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i := 0; i < s.config.Clients; i++ {
		g.Go(func() error {
			tok, err := api.IssueToken(s.config.JWTSecret, auth.Principal{ID: uuid.New(), Role: auth.RoleCustomer}, time.Hour)
			if err != nil {
				return err
			}
			start := time.Now()
			status, err := s.call(gctx, tok, http.MethodPost, "/api/v1/reservations", api.CreateReservationRequest{
				ServiceID: s.serviceID.String(),
				SlotID:    created.ID.String(),
			}, nil)
			latency := time.Since(start)

			switch {
			case err == nil && status == http.StatusCreated:
				accepted.Add(1)
				s.metrics.Record(latency, true, false)
			case err == nil && status == http.StatusConflict:
				rejected.Add(1)
				s.metrics.Record(latency, false, true)
			default:
				failed.Add(1)
				s.metrics.Record(latency, false, false)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RoundResult{}, err
	}

	var after api.SlotResponse
	if _, err := s.call(ctx, s.admin, http.MethodGet, "/api/v1/slots/"+created.ID.String(), nil, &after); err != nil {
		return RoundResult{}, err
	}

	res := RoundResult{
		SlotID:      created.ID,
		Capacity:    s.config.Capacity,
		Accepted:    int(accepted.Load()),
		Rejected:    int(rejected.Load()),
		Failed:      int(failed.Load()),
		BookedCount: after.BookedCount,
	}
	s.logger.Info().
		Int("round", round).
		Str("slot_id", res.SlotID.String()).
		Int("accepted", res.Accepted).
		Int("rejected", res.Rejected).
		Int("failed", res.Failed).
		Int("booked_count", res.BookedCount).
		Msg("round finished")
	return res, nil
}

func (s *Simulator) call(ctx context.Context, token, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport(results []RoundResult) int {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SLOT CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Rounds: %d  Clients per round: %d  Capacity: %d\n\n", s.config.Rounds, s.config.Clients, s.config.Capacity)

	violations := 0
	for i, r := range results {
		verdict := "ok"
		if err := r.Violation(); err != nil {
			verdict = err.Error()
			violations++
		}
		fmt.Printf("round %d: accepted=%d rejected=%d failed=%d booked=%d  %s\n",
			i, r.Accepted, r.Rejected, r.Failed, r.BookedCount, verdict)
	}
	fmt.Println()

	om := &s.metrics
	total := atomic.LoadInt64(&om.Total)
	if total > 0 {
		avg, min, max, p50, p95 := om.Stats()
		fmt.Printf("Reservations: total=%d success=%d conflicts=%d errors=%d\n",
			total, atomic.LoadInt64(&om.Success), atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error))
		fmt.Printf("Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
			avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
			p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	}
	fmt.Printf("Violations: %d\n", violations)
	return violations
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
