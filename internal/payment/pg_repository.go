package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txBeginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db txBeginner
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func newPgRepositoryWith(db txBeginner) *PgRepository {
	return &PgRepository{db: db}
}

const paymentColumns = `id, payment_no, appointment_id, amount, method, payment_stage, status, checkout_url,
	gateway_transaction_id, gateway_status, created_at, updated_at`

const (
	uniqueViolation      = "23505"
	pendingPerStageIndex = "payments_one_pending_per_stage"
)

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.PaymentNo,
		&p.AppointmentID,
		&p.Amount,
		&p.Method,
		&p.Stage,
		&p.Status,
		&p.CheckoutURL,
		&p.GatewayTransactionID,
		&p.GatewayStatus,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()

	var result []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreatePending(ctx context.Context, p *Payment) (*Payment, error) {
	created, err := scanPayment(r.db.QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, amount, method, payment_stage, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING `+paymentColumns,
		p.ID, p.AppointmentID, p.Amount, p.Method, p.Stage,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == pendingPerStageIndex {
			return nil, ErrDuplicatePending
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PgRepository) GetByNo(ctx context.Context, paymentNo int64) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_no = $1`, paymentNo))
}

func (r *PgRepository) FindPending(ctx context.Context, appointmentID uuid.UUID, stage Stage) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1 AND payment_stage = $2 AND status = 'pending'
	`, appointmentID, stage))
}

func (r *PgRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE appointment_id = $1
		ORDER BY payment_no
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return collectPayments(rows)
}

func (r *PgRepository) SetCheckout(ctx context.Context, id uuid.UUID, url string) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `
		UPDATE payments SET checkout_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns,
		id, url,
	))
}

func (r *PgRepository) Complete(ctx context.Context, id uuid.UUID, transactionID, gatewayStatus string) (Completion, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Completion{}, fmt.Errorf("begin payment completion: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Completion{}, err
	}

	var out Completion
	if current.Status != StatusPending {
		if current.GatewayTransactionID == nil || *current.GatewayTransactionID != transactionID {
			return Completion{}, ErrStatusChanged
		}
		appt, err := appointment.ScanAppointment(tx.QueryRow(ctx,
			`SELECT `+appointment.Columns+` FROM appointments WHERE id = $1`, current.AppointmentID))
		if err != nil {
			return Completion{}, err
		}
		out = Completion{Payment: current, Appointment: appt}
	} else {
		completed, err := scanPayment(tx.QueryRow(ctx, `
			UPDATE payments
			SET status = 'completed',
			    gateway_transaction_id = $2,
			    gateway_status = NULLIF($3, ''),
			    updated_at = now()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+paymentColumns,
			id, transactionID, gatewayStatus,
		))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return Completion{}, ErrTransactionReused
			}
			return Completion{}, err
		}

		appt, err := creditAppointment(ctx, tx, completed.AppointmentID, completed.Amount)
		if err != nil {
			return Completion{}, err
		}
		out = Completion{Payment: completed, Appointment: appt, Applied: true}
	}

	if err := tx.Commit(ctx); err != nil {
		return Completion{}, fmt.Errorf("commit payment completion: %w", err)
	}
	return out, nil
}

func (r *PgRepository) Refund(ctx context.Context, id uuid.UUID) (Completion, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Completion{}, fmt.Errorf("begin refund: %w", err)
	}
	defer tx.Rollback(ctx)

	refunded, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'refunded', updated_at = now()
		WHERE id = $1 AND status = 'completed'
		RETURNING `+paymentColumns,
		id,
	))
	if errors.Is(err, ErrPaymentNotFound) {
		return Completion{}, ErrStatusChanged
	}
	if err != nil {
		return Completion{}, err
	}
	appt, err := creditAppointment(ctx, tx, refunded.AppointmentID, -refunded.Amount)
	if err != nil {
		return Completion{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Completion{}, fmt.Errorf("commit refund: %w", err)
	}
	return Completion{Payment: refunded, Appointment: appt, Applied: true}, nil
}

func creditAppointment(ctx context.Context, tx pgx.Tx, appointmentID uuid.UUID, delta int64) (*appointment.Appointment, error) {
	appt, err := appointment.ScanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET amount_paid = amount_paid + $2, updated_at = now()
		WHERE id = $1
		  AND amount_paid + $2 BETWEEN 0 AND total_amount
		RETURNING `+appointment.Columns,
		appointmentID, delta,
	))
	if errors.Is(err, appointment.ErrAppointmentNotFound) {
		return nil, appointment.ErrAmountOutOfRange
	}
	return appt, err
}

func (r *PgRepository) Close(ctx context.Context, id uuid.UUID, to Status, gatewayStatus string) (*Payment, error) {
	p, err := scanPayment(r.db.QueryRow(ctx, `
		UPDATE payments
		SET status = $2, gateway_status = COALESCE(NULLIF($3, ''), gateway_status), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+paymentColumns,
		id, to, gatewayStatus,
	))
	if errors.Is(err, ErrPaymentNotFound) {
		return nil, ErrStatusChanged
	}
	return p, err
}

func (r *PgRepository) FindStalePending(ctx context.Context, method Method, before time.Time, limit int) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND method = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, method, before, limit)
	if err != nil {
		return nil, fmt.Errorf("find stale payments: %w", err)
	}
	return collectPayments(rows)
}
