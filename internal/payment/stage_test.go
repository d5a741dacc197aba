package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/dna-testing-scheduling/internal/apperr"
	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

func TestDetermineStage(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		deposit   int64
		paid      int64
		wantStage Stage
		wantAmt   int64
		wantKind  apperr.Kind
	}{
		{"nothing paid owes deposit", 1000, 200, 0, StageDeposit, 200, ""},
		{"deposit paid owes rest", 1000, 200, 200, StageRemaining, 800, ""},
		{"paid beyond deposit owes rest", 1000, 200, 500, StageRemaining, 500, ""},
		{"no deposit goes straight to remaining", 1000, 0, 0, StageRemaining, 1000, ""},
		{"fully paid", 1000, 200, 1000, "", 0, apperr.KindAlreadyFullyPaid},
		{"free service is fully paid", 0, 0, 0, "", 0, apperr.KindAlreadyFullyPaid},
		{"partial deposit needs review", 1000, 200, 100, "", 0, apperr.KindConflict},
		{"worked example owes deposit", 500000, 150000, 0, StageDeposit, 150000, ""},
		{"worked example owes rest after deposit", 500000, 150000, 150000, StageRemaining, 350000, ""},
		{"worked example settled", 500000, 150000, 500000, "", 0, apperr.KindAlreadyFullyPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, amount, err := DetermineStage(appointment.Appointment{TotalAmount: tt.total, DepositAmount: tt.deposit, AmountPaid: tt.paid})
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantStage, stage)
			assert.Equal(t, tt.wantAmt, amount)
		})
	}
}

func TestFullyPaidMatchesSentinel(t *testing.T) {
	_, _, err := DetermineStage(appointment.Appointment{TotalAmount: 10, AmountPaid: 10})
	assert.ErrorIs(t, err, apperr.ErrAlreadyFullyPaid)
}

func TestPaymentTransitions(t *testing.T) {
	assert.NoError(t, CheckTransition(StatusPending, StatusCompleted))
	assert.NoError(t, CheckTransition(StatusPending, StatusFailed))
	assert.NoError(t, CheckTransition(StatusPending, StatusCancelled))
	assert.NoError(t, CheckTransition(StatusCompleted, StatusRefunded))

	assert.ErrorIs(t, CheckTransition(StatusCompleted, StatusPending), apperr.ErrInvalidStateTransition)
	assert.ErrorIs(t, CheckTransition(StatusFailed, StatusCompleted), apperr.ErrInvalidStateTransition)
	assert.ErrorIs(t, CheckTransition(StatusRefunded, StatusCompleted), apperr.ErrInvalidStateTransition)
	assert.ErrorIs(t, CheckTransition(StatusPending, StatusRefunded), apperr.ErrInvalidStateTransition)
}
