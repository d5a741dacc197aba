package expiry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	p := NewPolicy(0)
	assert.Equal(t, 24*time.Hour, p.TTL)

	now := time.Date(2026, 11, 3, 9, 0, 0, 0, time.UTC)
	exp := p.ExpiresAt(now)
	assert.Equal(t, now.Add(24*time.Hour), exp)

	assert.False(t, p.IsExpired(exp, now))
	assert.False(t, p.IsExpired(exp, exp), "expiry is strict")
	assert.True(t, p.IsExpired(exp, exp.Add(time.Second)))
	assert.False(t, p.IsExpired(time.Time{}, now.Add(1000*time.Hour)))
}

type fakeReservations struct {
	expired, leftovers int
	err                error
	calls              atomic.Int32
	sawLimit           int
}

func (f *fakeReservations) ExpireDue(_ context.Context, _ time.Time, limit int) (int, error) {
	f.calls.Add(1)
	f.sawLimit = limit
	return f.expired, f.err
}

func (f *fakeReservations) ReleaseLeftovers(context.Context, int) (int, error) {
	return f.leftovers, nil
}

type fakeHolds struct {
	expired, leftovers int
}

func (f *fakeHolds) ExpireHolds(context.Context, time.Time, int) (int, error) { return f.expired, nil }

func (f *fakeHolds) ReleaseLeftovers(context.Context, int) (int, error) { return f.leftovers, nil }

type fakeReconciler struct {
	grace time.Duration
}

func (f *fakeReconciler) Reconcile(_ context.Context, grace time.Duration, _ int) (int, error) {
	f.grace = grace
	return 2, nil
}

func TestRunOnceAggregatesSteps(t *testing.T) {
	r := &fakeReservations{expired: 3, leftovers: 1}
	a := &fakeHolds{expired: 2, leftovers: 1}
	p := &fakeReconciler{}
	s := NewSweeper(r, a, p, SweeperConfig{BatchSize: 50, PaymentGrace: time.Minute}, zerolog.Nop())

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Reservations: 3, Appointments: 2, ReleasedLeftover: 2, Reconciled: 2}, rep)
	assert.Equal(t, 50, r.sawLimit)
	assert.Equal(t, time.Minute, p.grace)
}

func TestRunOnceKeepsGoingAfterFailure(t *testing.T) {
	r := &fakeReservations{err: errors.New("db down")}
	a := &fakeHolds{expired: 1}
	s := NewSweeper(r, a, nil, SweeperConfig{}, zerolog.Nop())

	rep, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire reservations")
	assert.Equal(t, 1, rep.Appointments)
}

func TestStartRunsImmediatelyAndStopsWithContext(t *testing.T) {
	r := &fakeReservations{}
	s := NewSweeper(r, nil, nil, SweeperConfig{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "@every 1h") }()

	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(nil, nil, nil, SweeperConfig{}, zerolog.Nop())
	err := s.Start(context.Background(), "not a schedule")
	assert.Error(t, err)
}
