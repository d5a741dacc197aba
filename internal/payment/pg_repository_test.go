package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

var (
	paymentCols = []string{"id", "payment_no", "appointment_id", "amount", "method", "payment_stage", "status",
		"checkout_url", "gateway_transaction_id", "gateway_status", "created_at", "updated_at"}
	appointmentCols = []string{"id", "customer_id", "service_id", "slot_id", "kit_id", "status", "total_amount",
		"deposit_amount", "amount_paid", "collection_type", "collection_address", "hold_expires_at", "slot_released",
		"cancel_reason", "created_at", "updated_at"}
)

func paymentRow(id, apptID uuid.UUID, status Status, txn *string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(paymentCols).AddRow(
		id, int64(100001), apptID, int64(200), MethodOnline, StageDeposit, status,
		(*string)(nil), txn, (*string)(nil), now, now,
	)
}

func appointmentRow(id uuid.UUID, paid int64) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(appointmentCols).AddRow(
		id, uuid.New(), uuid.New(), (*uuid.UUID)(nil), (*uuid.UUID)(nil), appointment.StatusPending, int64(1000),
		int64(200), paid, "facility", (*string)(nil), (*time.Time)(nil), false,
		(*string)(nil), now, now,
	)
}

func TestPgCompleteCreditsInOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id, apptID := uuid.New(), uuid.New()
	txn := "txn-1"

	mock.ExpectBegin()
	mock.ExpectQuery("FROM payments WHERE id = \\$1 FOR UPDATE").WithArgs(id).
		WillReturnRows(paymentRow(id, apptID, StatusPending, nil))
	mock.ExpectQuery("UPDATE payments").WithArgs(id, txn, "PAID").
		WillReturnRows(paymentRow(id, apptID, StatusCompleted, &txn))
	mock.ExpectQuery("amount_paid \\+ \\$2 BETWEEN 0 AND total_amount").WithArgs(apptID, int64(200)).
		WillReturnRows(appointmentRow(apptID, 200))
	mock.ExpectCommit()

	done, err := repo.Complete(context.Background(), id, txn, "PAID")
	require.NoError(t, err)
	assert.True(t, done.Applied)
	assert.Equal(t, StatusCompleted, done.Payment.Status)
	assert.Equal(t, int64(200), done.Appointment.AmountPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCompleteReplayDoesNotCredit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id, apptID := uuid.New(), uuid.New()
	txn := "txn-1"

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(paymentRow(id, apptID, StatusCompleted, &txn))
	mock.ExpectQuery("SELECT .* FROM appointments WHERE id").WithArgs(apptID).
		WillReturnRows(appointmentRow(apptID, 200))
	mock.ExpectCommit()

	done, err := repo.Complete(context.Background(), id, txn, "PAID")
	require.NoError(t, err)
	assert.False(t, done.Applied)
	assert.Equal(t, int64(200), done.Appointment.AmountPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCompleteOverpaymentRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id, apptID := uuid.New(), uuid.New()
	txn := "txn-1"

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(paymentRow(id, apptID, StatusPending, nil))
	mock.ExpectQuery("UPDATE payments").WithArgs(id, txn, "").
		WillReturnRows(paymentRow(id, apptID, StatusCompleted, &txn))
	mock.ExpectQuery("UPDATE appointments").WithArgs(apptID, int64(200)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = repo.Complete(context.Background(), id, txn, "")
	assert.ErrorIs(t, err, appointment.ErrAmountOutOfRange)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCompleteReusedTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id, apptID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(paymentRow(id, apptID, StatusPending, nil))
	mock.ExpectQuery("UPDATE payments").WithArgs(id, "dup", "").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "payments_gateway_transaction_id_key"})
	mock.ExpectRollback()

	_, err = repo.Complete(context.Background(), id, "dup", "")
	assert.ErrorIs(t, err, ErrTransactionReused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreatePendingDuplicateStage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	p := &Payment{ID: uuid.New(), AppointmentID: uuid.New(), Amount: 200, Method: MethodOnline, Stage: StageDeposit}

	mock.ExpectQuery("INSERT INTO payments").
		WithArgs(p.ID, p.AppointmentID, p.Amount, p.Method, p.Stage).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: pendingPerStageIndex})

	_, err = repo.CreatePending(context.Background(), p)
	assert.ErrorIs(t, err, ErrDuplicatePending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRefundDebitsInOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id, apptID := uuid.New(), uuid.New()
	txn := "txn-1"

	mock.ExpectBegin()
	mock.ExpectQuery("SET status = 'refunded'").WithArgs(id).
		WillReturnRows(paymentRow(id, apptID, StatusRefunded, &txn))
	mock.ExpectQuery("UPDATE appointments").WithArgs(apptID, int64(-200)).
		WillReturnRows(appointmentRow(apptID, 0))
	mock.ExpectCommit()

	done, err := repo.Refund(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, done.Applied)
	assert.Equal(t, StatusRefunded, done.Payment.Status)
	assert.Zero(t, done.Appointment.AmountPaid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRefundRequiresCompletedPayment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPgRepositoryWith(mock)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SET status = 'refunded'").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = repo.Refund(context.Background(), id)
	assert.ErrorIs(t, err, ErrStatusChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
