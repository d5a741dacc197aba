package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgUpdateStatusReturnsPriorHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id, slotID := uuid.New(), uuid.New()
	now := time.Now()

	cols := []string{"id", "customer_id", "service_id", "testing_need", "preferred_date", "preferred_slots", "slot_id",
		"hold_count", "total_amount", "deposit_amount", "status", "payment_status", "reservation_expires_at",
		"converted_to_appointment_id", "created_at", "updated_at", "hold_count"}

	mock.ExpectQuery("UPDATE reservations AS r").
		WithArgs(id, StatusPending, StatusExpired, (*uuid.UUID)(nil), true).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			id, uuid.New(), uuid.New(), "civil", (*time.Time)(nil), []string{"morning"}, &slotID,
			0, int64(5_000_000), int64(1_000_000), StatusExpired, PaymentUnpaid, now,
			(*uuid.UUID)(nil), now, now, 1,
		))

	r, prior, err := repo.UpdateStatus(context.Background(), id, Transition{From: StatusPending, To: StatusExpired, ReleaseHold: true})
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, r.Status)
	assert.Zero(t, r.HoldCount)
	assert.Equal(t, 1, prior)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusNoRowIsStatusChanged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()
	apptID := uuid.New()

	mock.ExpectQuery("AND r.status = \\$2").
		WithArgs(id, StatusPending, StatusConverted, &apptID, true).
		WillReturnError(pgx.ErrNoRows)

	_, _, err = repo.UpdateStatus(context.Background(), id, Transition{From: StatusPending, To: StatusConverted, ConvertedTo: &apptID, ReleaseHold: true})
	assert.ErrorIs(t, err, ErrStatusChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClaimHold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()

	mock.ExpectQuery("r.hold_count > 0").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"hold_count"}).AddRow(1))
	mock.ExpectQuery("r.hold_count > 0").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	n, err := repo.ClaimHold(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.ClaimHold(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, n, "an already claimed hold yields nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFindLapsedOnSlotFiltersBySlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	slotID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("slot_id = \\$1 AND hold_count > 0 AND reservation_expires_at < \\$2").
		WithArgs(slotID, now, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	got, err := repo.FindLapsedOnSlot(context.Background(), slotID, now, 20)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSetPaymentStatusByAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	apptID := uuid.New()

	mock.ExpectExec("WHERE converted_to_appointment_id = \\$1").
		WithArgs(apptID, PaymentDepositPaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SetPaymentStatus(context.Background(), apptID, PaymentDepositPaid))
	assert.NoError(t, mock.ExpectationsWereMet())
}
