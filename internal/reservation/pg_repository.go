package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func newPgRepositoryWith(db querier) *PgRepository {
	return &PgRepository{db: db}
}

const reservationColumns = `id, customer_id, service_id, testing_need, preferred_date, preferred_slots, slot_id, hold_count,
	total_amount, deposit_amount, status, payment_status, reservation_expires_at, converted_to_appointment_id,
	created_at, updated_at`

func scanInto(r *Reservation, extra ...any) []any {
	return append([]any{
		&r.ID,
		&r.CustomerID,
		&r.ServiceID,
		&r.TestingNeed,
		&r.PreferredDate,
		&r.PreferredSlots,
		&r.SlotID,
		&r.HoldCount,
		&r.TotalAmount,
		&r.DepositAmount,
		&r.Status,
		&r.PaymentStatus,
		&r.ExpiresAt,
		&r.ConvertedToAppointmentID,
		&r.CreatedAt,
		&r.UpdatedAt,
	}, extra...)
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	if err := row.Scan(scanInto(&r)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (p *PgRepository) Create(ctx context.Context, r *Reservation) (*Reservation, error) {
	created, err := scanReservation(p.db.QueryRow(ctx, `
		INSERT INTO reservations (id, customer_id, service_id, testing_need, preferred_date, preferred_slots, slot_id,
		                          hold_count, total_amount, deposit_amount, status, payment_status, reservation_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+reservationColumns,
		r.ID, r.CustomerID, r.ServiceID, r.TestingNeed, r.PreferredDate, r.PreferredSlots, r.SlotID,
		r.HoldCount, r.TotalAmount, r.DepositAmount, r.Status, r.PaymentStatus, r.ExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return created, nil
}

func (p *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return scanReservation(p.db.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
}

func (p *PgRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, t Transition) (*Reservation, int, error) {
	var r Reservation
	var prior int
	err := p.db.QueryRow(ctx, `
		UPDATE reservations AS r
		SET status = $3,
		    converted_to_appointment_id = COALESCE($4, r.converted_to_appointment_id),
		    hold_count = CASE WHEN $5 THEN 0 ELSE r.hold_count END,
		    updated_at = now()
		FROM (SELECT id, hold_count FROM reservations WHERE id = $1 FOR UPDATE) AS old
		WHERE r.id = old.id
		  AND r.status = $2
		RETURNING r.id, r.customer_id, r.service_id, r.testing_need, r.preferred_date, r.preferred_slots, r.slot_id,
		          r.hold_count, r.total_amount, r.deposit_amount, r.status, r.payment_status, r.reservation_expires_at,
		          r.converted_to_appointment_id, r.created_at, r.updated_at, old.hold_count
	`, id, t.From, t.To, t.ConvertedTo, t.ReleaseHold).Scan(scanInto(&r, &prior)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrStatusChanged
	}
	if err != nil {
		return nil, 0, err
	}
	return &r, prior, nil
}

func (p *PgRepository) UndoConversion(ctx context.Context, id uuid.UUID, to Status, holdCount int) (*Reservation, error) {
	r, err := scanReservation(p.db.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2, converted_to_appointment_id = NULL, hold_count = $3, updated_at = now()
		WHERE id = $1 AND status = 'converted'
		RETURNING `+reservationColumns,
		id, to, holdCount,
	))
	if errors.Is(err, ErrReservationNotFound) {
		return nil, ErrStatusChanged
	}
	return r, err
}

func (p *PgRepository) RestoreHold(ctx context.Context, id uuid.UUID, holdCount int) error {
	_, err := p.db.Exec(ctx, `
		UPDATE reservations SET hold_count = $2, updated_at = now()
		WHERE id = $1 AND hold_count = 0
	`, id, holdCount)
	if err != nil {
		return fmt.Errorf("restore reservation hold: %w", err)
	}
	return nil
}

func (p *PgRepository) ClaimHold(ctx context.Context, id uuid.UUID) (int, error) {
	var prior int
	err := p.db.QueryRow(ctx, `
		UPDATE reservations AS r
		SET hold_count = 0, updated_at = now()
		FROM (SELECT id, hold_count FROM reservations WHERE id = $1 FOR UPDATE) AS old
		WHERE r.id = old.id
		  AND r.hold_count > 0
		RETURNING old.hold_count
	`, id).Scan(&prior)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("claim reservation hold: %w", err)
	}
	return prior, nil
}

func (p *PgRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending' AND reservation_expires_at < $1
		ORDER BY reservation_expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired reservations: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) FindLapsedOnSlot(ctx context.Context, slotID uuid.UUID, now time.Time, limit int) ([]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending' AND slot_id = $1 AND hold_count > 0 AND reservation_expires_at < $2
		ORDER BY reservation_expires_at
		LIMIT $3
	`, slotID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find lapsed reservations on slot: %w", err)
	}
	return collectReservations(rows)
}

func (p *PgRepository) SetPaymentStatus(ctx context.Context, appointmentID uuid.UUID, status PaymentStatus) error {
	_, err := p.db.Exec(ctx, `
		UPDATE reservations
		SET payment_status = $2, updated_at = now()
		WHERE converted_to_appointment_id = $1 AND payment_status <> $2
	`, appointmentID, status)
	if err != nil {
		return fmt.Errorf("set reservation payment status: %w", err)
	}
	return nil
}

func (p *PgRepository) FindUnreleased(ctx context.Context, limit int) ([]Reservation, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status IN ('expired', 'cancelled') AND hold_count > 0 AND slot_id IS NOT NULL
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("find unreleased reservations: %w", err)
	}
	return collectReservations(rows)
}
