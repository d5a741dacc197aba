package slot

import (
	"context"
	"encoding/json"
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

const slotColumns = `id, staff_ids, service_id, time_windows, appointment_limit, booked_count, status, appointment_id, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var windows []byte

	err := row.Scan(
		&s.ID,
		&s.StaffIDs,
		&s.ServiceID,
		&windows,
		&s.AppointmentLimit,
		&s.BookedCount,
		&s.Status,
		&s.AppointmentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(windows, &s.Windows); err != nil {
		return nil, fmt.Errorf("decode time windows for slot %s: %w", s.ID, err)
	}
	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// conditional turns ErrSlotNotFound from a guarded UPDATE into ErrNotApplied.
func conditional(s *Slot, err error) (*Slot, error) {
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrNotApplied
	}
	return s, err
}

func (r *PgRepository) Create(ctx context.Context, s *Slot) (*Slot, error) {
	windows, err := json.Marshal(s.Windows)
	if err != nil {
		return nil, fmt.Errorf("encode time windows: %w", err)
	}
	first, last := s.DayRange()

	row := r.db.QueryRow(ctx, `
		INSERT INTO slots (id, staff_ids, service_id, time_windows, first_day, last_day,
		                   appointment_limit, booked_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, now(), now())
		RETURNING `+slotColumns,
		s.ID, s.StaffIDs, s.ServiceID, windows, first, last, s.AppointmentLimit, s.Status)

	created, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) TryReserve(ctx context.Context, id uuid.UUID, count int) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = booked_count + $2,
		    status = CASE WHEN booked_count + $2 >= appointment_limit THEN 'booked' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'unavailable'
		  AND booked_count + $2 <= appointment_limit
		RETURNING `+slotColumns, id, count)
	return conditional(scanSlot(row))
}

func (r *PgRepository) TryRelease(ctx context.Context, id uuid.UUID, count int) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET booked_count = booked_count - $2,
		    status = CASE WHEN status = 'booked' AND booked_count - $2 < appointment_limit THEN 'available' ELSE status END,
		    appointment_id = CASE WHEN booked_count - $2 < appointment_limit THEN NULL ELSE appointment_id END,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count >= $2
		RETURNING `+slotColumns, id, count)
	return conditional(scanSlot(row))
}

func (r *PgRepository) AttachAppointment(ctx context.Context, id, appointmentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE slots
		SET appointment_id = $2,
		    updated_at = now()
		WHERE id = $1
		  AND appointment_limit = 1
		  AND booked_count = 1
	`, id, appointmentID)
	if err != nil {
		return fmt.Errorf("attach appointment to slot: %w", err)
	}
	return nil
}

func (r *PgRepository) MarkUnavailable(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET status = 'unavailable',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns, id)
	return scanSlot(row)
}

func (r *PgRepository) Reopen(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE slots
		SET status = CASE WHEN booked_count >= appointment_limit THEN 'booked' ELSE 'available' END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns, id)
	return scanSlot(row)
}

func (r *PgRepository) FindByStaff(ctx context.Context, staffIDs []uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE staff_ids && $1
		  AND last_day >= $2
		  AND first_day <= $3
	`, staffIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("find slots by staff: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListAvailablePage(ctx context.Context, dr DateRange, serviceID *uuid.UUID, after *Cursor, limit int) ([]Slot, error) {
	var afterDay *time.Time
	var afterID *uuid.UUID
	if after != nil {
		afterDay = &after.Day
		afterID = &after.ID
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE status = 'available'
		  AND last_day >= $1
		  AND first_day <= $2
		  AND ($3::uuid IS NULL OR service_id = $3)
		  AND ($4::date IS NULL OR (first_day, id) > ($4::date, $5::uuid))
		ORDER BY first_day, id
		LIMIT $6
	`, dr.From, dr.To, serviceID, afterDay, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return collectSlots(rows)
}
