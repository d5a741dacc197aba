package appointment

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

// Columns is the select list matching ScanAppointment. The payment store
// reuses it when it returns the credited appointment.
const Columns = `id, customer_id, service_id, slot_id, kit_id, status, total_amount, deposit_amount, amount_paid,
	collection_type, collection_address, hold_expires_at, slot_released, cancel_reason, created_at, updated_at`

// ScanAppointment maps pgx.ErrNoRows to ErrAppointmentNotFound.
func ScanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.ServiceID,
		&a.SlotID,
		&a.KitID,
		&a.Status,
		&a.TotalAmount,
		&a.DepositAmount,
		&a.AmountPaid,
		&a.CollectionType,
		&a.CollectionAddress,
		&a.HoldExpiresAt,
		&a.SlotReleased,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := ScanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// conditional maps "no row matched" to ErrStatusChanged.
func conditional(a *Appointment, err error) (*Appointment, error) {
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, customer_id, service_id, slot_id, status, total_amount, deposit_amount,
		                          amount_paid, collection_type, collection_address, hold_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		RETURNING `+Columns,
		a.ID, a.CustomerID, a.ServiceID, a.SlotID, a.Status, a.TotalAmount, a.DepositAmount,
		a.CollectionType, a.CollectionAddress, a.HoldExpiresAt,
	)
	created, err := ScanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return ScanAppointment(r.db.QueryRow(ctx, `SELECT `+Columns+` FROM appointments WHERE id = $1`, id))
}

func (r *PgRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, t Transition) (*Appointment, error) {
	return conditional(ScanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    hold_expires_at = CASE WHEN $4 THEN NULL ELSE hold_expires_at END,
		    cancel_reason = COALESCE($5, cancel_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+Columns,
		id, t.From, t.To, t.ClearHold, t.CancelReason,
	)))
}

func (r *PgRepository) SetKit(ctx context.Context, id, kitID uuid.UUID) (*Appointment, error) {
	return ScanAppointment(r.db.QueryRow(ctx, `
		UPDATE appointments
		SET kit_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+Columns,
		id, kitID,
	))
}

func (r *PgRepository) SetSlotReleased(ctx context.Context, id uuid.UUID, released bool) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET slot_released = $2, updated_at = now()
		WHERE id = $1
		  AND slot_id IS NOT NULL
		  AND slot_released = NOT $2
	`, id, released)
	if err != nil {
		return false, fmt.Errorf("set slot released: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) FindExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE status = 'pending'
		  AND hold_expires_at IS NOT NULL
		  AND hold_expires_at < $1
		ORDER BY hold_expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired holds: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindExpiredHoldsOnSlot(ctx context.Context, slotID uuid.UUID, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE status = 'pending'
		  AND slot_id = $1
		  AND NOT slot_released
		  AND hold_expires_at IS NOT NULL
		  AND hold_expires_at < $2
		ORDER BY hold_expires_at
		LIMIT $3
	`, slotID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired holds on slot: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindUnreleasedCancelled(ctx context.Context, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+Columns+`
		FROM appointments
		WHERE status = 'cancelled'
		  AND slot_id IS NOT NULL
		  AND NOT slot_released
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("find unreleased cancelled: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
